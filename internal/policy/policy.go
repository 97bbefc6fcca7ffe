// Package policy maps a danger score to the alert actions it requires.
package policy

import "voice-guard-go/internal/types"

const (
	DefaultAuthority = 90
	DefaultContacts  = 75
)

// Result labels returned alongside the score.
const (
	LevelAuthority = "authority"
	LevelContacts  = "contacts"
	LevelSafe      = "safe"
)

// Engine holds two independent thresholds. Both compare with >=, so a score
// at or above Authority also satisfies Contacts whenever Contacts <= Authority.
type Engine struct {
	Authority float64
	Contacts  float64
}

func New(authority, contacts float64) Engine {
	return Engine{Authority: authority, Contacts: contacts}
}

// Evaluate is pure: the same score always yields the same actions, authority first.
func (e Engine) Evaluate(score float64) []types.AlertAction {
	var actions []types.AlertAction
	if score >= e.Authority {
		actions = append(actions, types.AlertAction{Kind: types.NotifyAuthority})
	}
	if score >= e.Contacts {
		actions = append(actions, types.AlertAction{Kind: types.NotifyContacts})
	}
	return actions
}

// Level summarizes actions the way the mobile client displays them.
func Level(actions []types.AlertAction) string {
	level := LevelSafe
	for _, a := range actions {
		switch a.Kind {
		case types.NotifyAuthority:
			return LevelAuthority
		case types.NotifyContacts:
			level = LevelContacts
		}
	}
	return level
}

// Has reports whether kind is among actions.
func Has(actions []types.AlertAction, kind types.ActionKind) bool {
	for _, a := range actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}
