package authz

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func viewerAbility() *Ability {
	return Build([]Permission{
		{Action: Actions{ActionView}, Subject: Subjects{SubjectUser, SubjectPrivilege}},
	})
}

func TestCheckAccessAllRequiresEveryCheck(t *testing.T) {
	ability := viewerAbility()

	err := CheckAccess(ability, []Check{
		{ActionView, SubjectUser},
		{ActionView, SubjectPrivilege},
	}, MatchAll)
	require.NoError(t, err, "both checks are granted")

	err = CheckAccess(ability, []Check{
		{ActionView, SubjectUser},
		{ActionUpdate, SubjectUser},
	}, MatchAll)
	require.Error(t, err, "one failing check must deny")
	require.True(t, IsAccessDenied(err))
}

func TestCheckAccessAnyRequiresOneCheck(t *testing.T) {
	ability := viewerAbility()

	err := CheckAccess(ability, []Check{
		{ActionDelete, SubjectUser},
		{ActionView, SubjectUser},
	}, MatchAny)
	require.NoError(t, err, "any-of passes with one granted check")

	err = CheckAccess(ability, []Check{
		{ActionDelete, SubjectUser},
		{ActionUpdate, SubjectUser},
	}, MatchAny)
	require.True(t, IsAccessDenied(err), "no check passes")
}

func TestCheckAccessEmptyChecks(t *testing.T) {
	ability := viewerAbility()

	// All-of over zero checks is vacuously true.
	require.NoError(t, CheckAccess(ability, nil, MatchAll))
	// Any-of over zero checks is vacuously false: nothing can satisfy
	// "at least one must pass".
	require.True(t, IsAccessDenied(CheckAccess(ability, nil, MatchAny)))
}

func TestCheckAccessEmptyAbilityDenies(t *testing.T) {
	err := CheckAccess(Build(nil), []Check{{ActionView, SubjectUser}}, MatchAll)
	require.True(t, IsAccessDenied(err))
}

func TestAccessDeniedErrorDistinctFromNotFound(t *testing.T) {
	err := MustAll(Build(nil), Check{ActionManage, SubjectPrivilege})
	require.True(t, IsAccessDenied(err))

	wrapped := fmt.Errorf("define privilege: %w", err)
	require.True(t, IsAccessDenied(wrapped), "must see through wrapping")

	require.False(t, IsAccessDenied(errors.New("not found")), "unrelated error must not read as access denied")
}

func TestAccessDeniedErrorMessage(t *testing.T) {
	err := CheckAccess(Build(nil), []Check{
		{ActionView, SubjectUser},
		{ActionManage, SubjectPrivilege},
	}, MatchAll)
	require.EqualError(t, err, "authz: access denied (all of view:User, manage:Privilege)")
}
