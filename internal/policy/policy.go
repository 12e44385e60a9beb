// Package policy holds the capability checks for account moderation.
//
// Authorization rules:
//   - Active moderators can invite, reinvite, decide on pending accounts and
//     reopen closed accounts
//   - Standard users have no moderation capability
//   - Closed or inactive accounts have no capability at all
package policy

import "accounts/internal/models"

type Capability string

const (
	CapInvite       Capability = "accounts.invite"
	CapReinvite     Capability = "accounts.reinvite"
	CapDecide       Capability = "accounts.decide"
	CapReopen       Capability = "accounts.reopen"
	CapListAccounts Capability = "accounts.list"
	CapManageBrands Capability = "brands.manage"
)

var moderatorCaps = map[Capability]struct{}{
	CapInvite:       {},
	CapReinvite:     {},
	CapDecide:       {},
	CapReopen:       {},
	CapListAccounts: {},
	CapManageBrands: {},
}

// Verdict is the outcome of a capability check.
type Verdict struct {
	Allowed bool
	Reason  string
}

func allow() Verdict { return Verdict{Allowed: true} }

func deny(reason string) Verdict { return Verdict{Allowed: false, Reason: reason} }

// Check reports whether actor holds capability c.
func Check(actor models.User, c Capability) Verdict {
	if actor.ID == "" {
		return deny("anonymous actor")
	}
	if actor.IsClosed() || !actor.IsActive {
		return deny("actor account is not active")
	}
	switch actor.Role {
	case models.RoleModerator:
		if _, ok := moderatorCaps[c]; ok {
			return allow()
		}
		return deny("unknown capability")
	default:
		return deny("moderator role required")
	}
}
