package authz

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildExpandsCartesianProduct(t *testing.T) {
	rules := []Permission{
		{
			Action:  Actions{ActionView, ActionUpdate},
			Subject: Subjects{SubjectUser, SubjectPrivilege},
		},
	}
	ability := Build(rules)

	granted := []Check{
		{ActionView, SubjectUser},
		{ActionView, SubjectPrivilege},
		{ActionUpdate, SubjectUser},
		{ActionUpdate, SubjectPrivilege},
	}
	for _, check := range granted {
		require.True(t, ability.Can(check.Action, check.Subject), "expected %s to be granted", check)
	}

	denied := []Check{
		{ActionDelete, SubjectUser},
		{ActionManage, SubjectUser},
		{ActionView, SubjectFormRecord},
	}
	for _, check := range denied {
		require.False(t, ability.Can(check.Action, check.Subject), "expected %s to be denied", check)
	}
}

func TestBuildEmptyRulesDeniesEverything(t *testing.T) {
	ability := Build(nil)
	require.False(t, ability.Can(ActionView, SubjectUser))
	require.False(t, ability.Can(ActionManage, SubjectPrivilege))
}

func TestManageIsNotAWildcard(t *testing.T) {
	ability := Build([]Permission{
		{Action: Actions{ActionManage}, Subject: Subjects{SubjectUser}},
	})
	require.True(t, ability.Can(ActionManage, SubjectUser))
	require.False(t, ability.Can(ActionView, SubjectUser))
	require.False(t, ability.Can(ActionDelete, SubjectUser))
}

func TestBuildCarriesConditionsOpaque(t *testing.T) {
	ability := Build([]Permission{
		{Action: Actions{ActionView}, Subject: Subjects{SubjectFormRecord}, Condition: `{"users":{"some":{"id":"${userId}"}}}`},
		{Action: Actions{ActionView}, Subject: Subjects{SubjectFormRecord}},
	})
	require.True(t, ability.Can(ActionView, SubjectFormRecord))
	conditions := ability.Conditions(ActionView, SubjectFormRecord)
	require.Len(t, conditions, 1)
	require.Contains(t, conditions[0], "${userId}")
}

func TestNilAbilityDenies(t *testing.T) {
	var ability *Ability
	require.False(t, ability.Can(ActionView, SubjectUser))
}

func TestPermissionJSONScalarAndArrayForms(t *testing.T) {
	cases := []struct {
		name     string
		payload  string
		actions  Actions
		subjects Subjects
	}{
		{
			name:     "scalar forms",
			payload:  `{"action":"view","subject":"User"}`,
			actions:  Actions{ActionView},
			subjects: Subjects{SubjectUser},
		},
		{
			name:     "array forms",
			payload:  `{"action":["view","update"],"subject":["User","FormRecord"]}`,
			actions:  Actions{ActionView, ActionUpdate},
			subjects: Subjects{SubjectUser, SubjectFormRecord},
		},
		{
			name:     "mixed with condition",
			payload:  `{"action":"manage","subject":["Privilege"],"condition":"owned"}`,
			actions:  Actions{ActionManage},
			subjects: Subjects{SubjectPrivilege},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var perm Permission
			require.NoError(t, json.Unmarshal([]byte(tc.payload), &perm))
			require.Equal(t, tc.actions, perm.Action)
			require.Equal(t, tc.subjects, perm.Subject)
		})
	}
}

func TestPermissionJSONRejectsUnknownAction(t *testing.T) {
	var perm Permission
	err := json.Unmarshal([]byte(`{"action":"publish","subject":"FormRecord"}`), &perm)
	require.Error(t, err)
}

func TestPermissionMarshalKeepsScalarForm(t *testing.T) {
	data, err := json.Marshal(Permission{
		Action:  Actions{ActionView},
		Subject: Subjects{SubjectUser},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"action":"view","subject":"User"}`, string(data))
}

func TestFlattenMergesPrivilegePermissions(t *testing.T) {
	base := []Permission{{Action: Actions{ActionView}, Subject: Subjects{SubjectFormRecord}}}
	admin := []Permission{
		{Action: Actions{ActionManage}, Subject: Subjects{SubjectUser}},
		{Action: Actions{ActionView}, Subject: Subjects{SubjectFormRecord}},
	}
	rules := Flatten(base, admin)
	require.Len(t, rules, 3)

	ability := Build(rules)
	require.True(t, ability.Can(ActionView, SubjectFormRecord))
	require.True(t, ability.Can(ActionManage, SubjectUser))
}
