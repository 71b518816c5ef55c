package authz

import (
	"errors"
	"fmt"
	"strings"
)

// Combinator is the boolean reduction applied across multiple checks.
type Combinator int

const (
	// MatchAll requires every check to pass. This is the default.
	MatchAll Combinator = iota
	// MatchAny requires at least one check to pass. Over zero checks it is
	// vacuously false: "at least one must pass" cannot hold with none
	// requested.
	MatchAny
)

// String renders the combinator for logs and error messages.
func (c Combinator) String() string {
	if c == MatchAny {
		return "any"
	}
	return "all"
}

// Check is one (action, subject) access request.
type Check struct {
	Action  Action
	Subject Subject
}

func (c Check) String() string {
	return string(c.Action) + ":" + string(c.Subject)
}

// AccessDeniedError reports a failed access-control decision. It is a
// security failure, never recovered silently; it must not be conflated with
// a not-found condition.
type AccessDeniedError struct {
	Checks     []Check
	Combinator Combinator
}

func (e *AccessDeniedError) Error() string {
	rendered := make([]string, len(e.Checks))
	for i, check := range e.Checks {
		rendered[i] = check.String()
	}
	return fmt.Sprintf("authz: access denied (%s of %s)", e.Combinator, strings.Join(rendered, ", "))
}

// IsAccessDenied reports whether err is, or wraps, an AccessDeniedError.
func IsAccessDenied(err error) bool {
	var denied *AccessDeniedError
	return errors.As(err, &denied)
}

// CheckAccess evaluates every check against the ability and applies the
// combinator over the results. It returns an *AccessDeniedError when the
// combinator fails and nil otherwise. This is the sole authorization
// decision point: protected operations call it before doing any work.
func CheckAccess(ability *Ability, checks []Check, combinator Combinator) error {
	allowed := false
	switch combinator {
	case MatchAny:
		for _, check := range checks {
			if ability.Can(check.Action, check.Subject) {
				allowed = true
				break
			}
		}
	default:
		allowed = true
		for _, check := range checks {
			if !ability.Can(check.Action, check.Subject) {
				allowed = false
				break
			}
		}
	}
	if !allowed {
		denied := &AccessDeniedError{Checks: make([]Check, len(checks)), Combinator: combinator}
		copy(denied.Checks, checks)
		return denied
	}
	return nil
}

// MustAll is shorthand for CheckAccess with the MatchAll combinator.
func MustAll(ability *Ability, checks ...Check) error {
	return CheckAccess(ability, checks, MatchAll)
}
