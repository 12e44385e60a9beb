package policy

import (
	"testing"
	"time"

	"accounts/internal/models"
)

func TestCheck(t *testing.T) {
	closedAt := time.Now().UTC()
	moderator := models.User{ID: "m1", Role: models.RoleModerator, IsActive: true}
	standard := models.User{ID: "u1", Role: models.RoleStandard, IsActive: true}
	inactiveModerator := models.User{ID: "m2", Role: models.RoleModerator}
	closedModerator := models.User{ID: "m3", Role: models.RoleModerator, IsActive: true, ClosedAt: &closedAt}

	cases := []struct {
		name  string
		actor models.User
		cap   Capability
		want  bool
	}{
		{name: "moderator invite", actor: moderator, cap: CapInvite, want: true},
		{name: "moderator reinvite", actor: moderator, cap: CapReinvite, want: true},
		{name: "moderator decide", actor: moderator, cap: CapDecide, want: true},
		{name: "moderator unknown capability", actor: moderator, cap: Capability("nope"), want: false},
		{name: "standard invite", actor: standard, cap: CapInvite, want: false},
		{name: "standard decide", actor: standard, cap: CapDecide, want: false},
		{name: "moderator reopen", actor: moderator, cap: CapReopen, want: true},
		{name: "standard reopen", actor: standard, cap: CapReopen, want: false},
		{name: "inactive moderator", actor: inactiveModerator, cap: CapInvite, want: false},
		{name: "closed moderator", actor: closedModerator, cap: CapDecide, want: false},
		{name: "anonymous", actor: models.User{}, cap: CapListAccounts, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := Check(tc.actor, tc.cap)
			if v.Allowed != tc.want {
				t.Fatalf("Check(%s)=%v want=%v reason=%q", tc.cap, v.Allowed, tc.want, v.Reason)
			}
			if !v.Allowed && v.Reason == "" {
				t.Fatalf("expected denial reason")
			}
		})
	}
}
