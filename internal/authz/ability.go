// Package authz compiles assigned permission rules into queryable abilities
// and evaluates access-control checks against them.
package authz

import (
	"encoding/json"
	"fmt"
)

// Action is a verb applied to a Subject.
type Action string

// Supported actions.
const (
	ActionManage Action = "manage"
	ActionCreate Action = "create"
	ActionView   Action = "view"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ParseAction validates a raw action string.
func ParseAction(raw string) (Action, error) {
	switch Action(raw) {
	case ActionManage, ActionCreate, ActionView, ActionUpdate, ActionDelete:
		return Action(raw), nil
	}
	return "", fmt.Errorf("authz: unknown action %q", raw)
}

// Subject names a resource type an Action applies to. The set is open;
// these are the subjects the platform currently protects.
type Subject string

// Known subjects.
const (
	SubjectUser       Subject = "User"
	SubjectPrivilege  Subject = "Privilege"
	SubjectFormRecord Subject = "FormRecord"
)

// Actions is a scalar-or-array JSON list of actions. Persisted permission
// rules use both forms interchangeably.
type Actions []Action

// UnmarshalJSON accepts either "view" or ["view","update"].
func (a *Actions) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		action, err := ParseAction(one)
		if err != nil {
			return err
		}
		*a = Actions{action}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("authz: action must be a string or string array: %w", err)
	}
	parsed := make(Actions, 0, len(many))
	for _, raw := range many {
		action, err := ParseAction(raw)
		if err != nil {
			return err
		}
		parsed = append(parsed, action)
	}
	*a = parsed
	return nil
}

// MarshalJSON keeps the compact scalar form for single-element lists.
func (a Actions) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(string(a[0]))
	}
	return json.Marshal([]Action(a))
}

// Subjects is a scalar-or-array JSON list of subjects.
type Subjects []Subject

// UnmarshalJSON accepts either "User" or ["User","Privilege"].
func (s *Subjects) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = Subjects{Subject(one)}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("authz: subject must be a string or string array: %w", err)
	}
	parsed := make(Subjects, 0, len(many))
	for _, raw := range many {
		parsed = append(parsed, Subject(raw))
	}
	*s = parsed
	return nil
}

// MarshalJSON keeps the compact scalar form for single-element lists.
func (s Subjects) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(string(s[0]))
	}
	return json.Marshal([]Subject(s))
}

// Permission is one assigned rule. Array-valued action/subject is shorthand
// for the Cartesian product of atomic (action, subject) pairs sharing the
// same condition.
type Permission struct {
	Action    Actions  `json:"action"`
	Subject   Subjects `json:"subject"`
	Condition string   `json:"condition,omitempty"`
}

type grant struct {
	action  Action
	subject Subject
}

// Ability is a compiled, read-only view over an effective rule set. Build a
// fresh Ability whenever rules are loaded; it is never mutated in place and
// is safe for concurrent use.
type Ability struct {
	grants     map[grant]struct{}
	conditions map[grant][]string
}

// Build expands every permission into its atomic (action, subject) pairs.
// Conditions are opaque pass-through data; evaluating them is the caller's
// concern. An empty rule set yields an Ability that denies everything.
func Build(rules []Permission) *Ability {
	ability := &Ability{
		grants:     make(map[grant]struct{}, len(rules)),
		conditions: make(map[grant][]string),
	}
	for _, rule := range rules {
		for _, action := range rule.Action {
			for _, subject := range rule.Subject {
				g := grant{action: action, subject: subject}
				ability.grants[g] = struct{}{}
				if rule.Condition != "" {
					ability.conditions[g] = append(ability.conditions[g], rule.Condition)
				}
			}
		}
	}
	return ability
}

// Can reports whether at least one compiled rule grants action on subject.
// Actions match exactly; manage is a distinct verb, not a wildcard.
func (a *Ability) Can(action Action, subject Subject) bool {
	if a == nil {
		return false
	}
	_, ok := a.grants[grant{action: action, subject: subject}]
	return ok
}

// Conditions returns the opaque condition expressions attached to rules
// granting action on subject, in rule order.
func (a *Ability) Conditions(action Action, subject Subject) []string {
	if a == nil {
		return nil
	}
	return a.conditions[grant{action: action, subject: subject}]
}

// Flatten merges the permission lists of several privileges into one
// effective rule set. Order follows the input; duplicates are kept, they are
// harmless to Build.
func Flatten(permissionSets ...[]Permission) []Permission {
	size := 0
	for _, set := range permissionSets {
		size += len(set)
	}
	rules := make([]Permission, 0, size)
	for _, set := range permissionSets {
		rules = append(rules, set...)
	}
	return rules
}
