package moderation

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"accounts/internal/models"
)

type seqTokens struct {
	n int
}

func (g *seqTokens) Generate() (string, string, error) {
	g.n++
	raw := fmt.Sprintf("raw-%d", g.n)
	return raw, "hash-" + raw, nil
}

type fixedTokens struct{}

func (fixedTokens) Generate() (string, string, error) { return "same", "hash-same", nil }

type failingTokens struct{}

func (failingTokens) Generate() (string, string, error) { return "", "", errors.New("entropy gone") }

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newModerator() models.User {
	return models.User{ID: "mod-1", Email: "moderator@test.test", Role: models.RoleModerator, IsActive: true}
}

func newStandard() models.User {
	return models.User{ID: "std-1", Email: "user@test.test", Role: models.RoleStandard, IsActive: true}
}

func newInvitedPending() models.User {
	decided := epoch.Add(-time.Hour)
	mod := "mod-0"
	hash := "hash-original"
	return models.User{
		ID:                 "inv-1",
		Email:              "invited@test.test",
		Role:               models.RoleStandard,
		RegistrationMethod: models.RegistrationInvited,
		ModeratorID:        &mod,
		ModeratorDecision:  models.DecisionPreApproved,
		DecisionAt:         &decided,
		AuthTokenHash:      &hash,
	}
}

func newRequestedPending() models.User {
	return models.User{
		ID:                 "req-1",
		Email:              "requested@test.test",
		Role:               models.RoleStandard,
		RegistrationMethod: models.RegistrationRequested,
	}
}

func newWorkflow() (*Workflow, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(epoch)
	return New(WithClock(clock), WithTokenGenerator(&seqTokens{})), clock
}

func TestModeratorCanInviteNewUser(t *testing.T) {
	w, _ := newWorkflow()
	mod := newModerator()

	res, err := w.InviteNewUser(mod, "standard@test.test", "standard", "user")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if !res.Applied() {
		t.Fatalf("expected applied outcome, got %s (%s)", res.Outcome, res.Reason)
	}
	u := res.Account
	if u.Email != "standard@test.test" || u.FirstName != "standard" || u.LastName != "user" {
		t.Fatalf("unexpected identity fields: %+v", u)
	}
	if u.RegistrationMethod != models.RegistrationInvited {
		t.Fatalf("expected invited registration, got %q", u.RegistrationMethod)
	}
	if u.ModeratorID == nil || *u.ModeratorID != mod.ID {
		t.Fatalf("expected moderator %q, got %v", mod.ID, u.ModeratorID)
	}
	if u.ModeratorDecision != models.DecisionPreApproved {
		t.Fatalf("expected pre_approved, got %q", u.ModeratorDecision)
	}
	if u.DecisionAt == nil || !u.DecisionAt.Equal(epoch) {
		t.Fatalf("expected decision time %v, got %v", epoch, u.DecisionAt)
	}
	if u.AuthTokenHash == nil || res.Token == "" {
		t.Fatalf("expected auth token to be issued")
	}
	if u.IsActive || u.Role != models.RoleStandard {
		t.Fatalf("invited account must be an inactive standard user: %+v", u)
	}
}

func TestStandardUserCannotInviteNewUser(t *testing.T) {
	w, _ := newWorkflow()
	res, err := w.InviteNewUser(newStandard(), "standard@test.test", "standard", "user")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if !res.Denied() {
		t.Fatalf("expected denied outcome, got %s", res.Outcome)
	}
	if res.Account.ID != "" || res.Token != "" {
		t.Fatalf("denied invite must not produce an account: %+v", res)
	}
}

func TestModeratorCanReinviteUser(t *testing.T) {
	w, clock := newWorkflow()
	target := newInvitedPending()
	prevAt := *target.DecisionAt
	prevHash := *target.AuthTokenHash
	clock.Advance(time.Minute)

	res, err := w.ReinviteUser(newModerator(), &target, "reset_email@test.test")
	if err != nil {
		t.Fatalf("reinvite: %v", err)
	}
	if !res.Applied() {
		t.Fatalf("expected applied outcome, got %s", res.Outcome)
	}
	if target.Email != "reset_email@test.test" {
		t.Fatalf("expected email reset, got %q", target.Email)
	}
	if target.DecisionAt.Equal(prevAt) {
		t.Fatalf("expected decision time to change")
	}
	if *target.AuthTokenHash == prevHash {
		t.Fatalf("expected auth token to change")
	}
}

func TestReinviteAlwaysMovesDecisionTimeForward(t *testing.T) {
	w, _ := newWorkflow()
	target := newInvitedPending()
	future := epoch.Add(time.Hour)
	target.DecisionAt = &future

	for i := 0; i < 3; i++ {
		prev := *target.DecisionAt
		if _, err := w.ReinviteUser(newModerator(), &target, "again@test.test"); err != nil {
			t.Fatalf("reinvite %d: %v", i, err)
		}
		if !target.DecisionAt.After(prev) {
			t.Fatalf("reinvite %d: decision time %v not after %v", i, target.DecisionAt, prev)
		}
	}
}

func TestReinviteRegeneratesRepeatedToken(t *testing.T) {
	w := New(WithClock(clockwork.NewFakeClockAt(epoch)), WithTokenGenerator(fixedTokens{}))
	target := newInvitedPending()
	same := "hash-same"
	target.AuthTokenHash = &same
	before := target

	if _, err := w.ReinviteUser(newModerator(), &target, "x@test.test"); err == nil {
		t.Fatalf("expected error when the token source keeps repeating")
	}
	if target.Email != before.Email {
		t.Fatalf("failed reinvite must not mutate the account")
	}
}

func TestStandardUserCannotReinviteUser(t *testing.T) {
	w, clock := newWorkflow()
	target := newInvitedPending()
	prevAt := *target.DecisionAt
	prevHash := *target.AuthTokenHash
	clock.Advance(time.Minute)

	res, err := w.ReinviteUser(newStandard(), &target, "reset_email@test.test")
	if err != nil {
		t.Fatalf("reinvite: %v", err)
	}
	if !res.Denied() {
		t.Fatalf("expected denied outcome")
	}
	if target.Email == "reset_email@test.test" {
		t.Fatalf("email must not change")
	}
	if !target.DecisionAt.Equal(prevAt) {
		t.Fatalf("decision time must not change")
	}
	if *target.AuthTokenHash != prevHash {
		t.Fatalf("auth token must not change")
	}
}

func TestModeratorCanDecideUserApplication(t *testing.T) {
	cases := []struct {
		name string
		want models.ModeratorDecision
		call func(*Workflow, models.User, *models.User) (Result, error)
	}{
		{name: "approve", want: models.DecisionApproved, call: (*Workflow).ApproveUserApplication},
		{name: "reject", want: models.DecisionRejected, call: (*Workflow).RejectUserApplication},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, _ := newWorkflow()
			mod := newModerator()
			target := newRequestedPending()

			res, err := tc.call(w, mod, &target)
			if err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}
			if !res.Applied() {
				t.Fatalf("expected applied outcome")
			}
			if target.ModeratorID == nil || *target.ModeratorID != mod.ID {
				t.Fatalf("expected moderator %q, got %v", mod.ID, target.ModeratorID)
			}
			if target.ModeratorDecision != tc.want {
				t.Fatalf("expected decision %q, got %q", tc.want, target.ModeratorDecision)
			}
			if target.DecisionAt == nil {
				t.Fatalf("expected decision time")
			}
			if target.AuthTokenHash == nil || res.Token == "" {
				t.Fatalf("expected auth token")
			}
		})
	}
}

func TestStandardUserCannotDecideUserApplication(t *testing.T) {
	for name, call := range map[string]func(*Workflow, models.User, *models.User) (Result, error){
		"approve": (*Workflow).ApproveUserApplication,
		"reject":  (*Workflow).RejectUserApplication,
	} {
		t.Run(name, func(t *testing.T) {
			w, _ := newWorkflow()
			target := newRequestedPending()

			res, err := call(w, newStandard(), &target)
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if !res.Denied() {
				t.Fatalf("expected denied outcome")
			}
			if target.ModeratorID != nil {
				t.Fatalf("moderator must stay unset")
			}
			if target.ModeratorDecision != models.DecisionNone {
				t.Fatalf("decision must stay unset, got %q", target.ModeratorDecision)
			}
			if target.DecisionAt != nil {
				t.Fatalf("decision time must stay unset")
			}
			if target.AuthTokenHash != nil {
				t.Fatalf("auth token must stay unset")
			}
		})
	}
}

func TestNonModeratorActorsNeverMutate(t *testing.T) {
	closedAt := epoch
	actors := map[string]models.User{
		"standard":           newStandard(),
		"inactive moderator": {ID: "m-in", Role: models.RoleModerator},
		"closed moderator":   {ID: "m-cl", Role: models.RoleModerator, IsActive: true, ClosedAt: &closedAt},
		"anonymous":          {},
	}
	for name, actor := range actors {
		t.Run(name, func(t *testing.T) {
			w, _ := newWorkflow()

			res, err := w.InviteNewUser(actor, "a@test.test", "a", "b")
			if err != nil || !res.Denied() {
				t.Fatalf("invite: expected silent denial, got %v %v", res.Outcome, err)
			}

			invited := newInvitedPending()
			snapshot := invited
			if res, err := w.ReinviteUser(actor, &invited, "b@test.test"); err != nil || !res.Denied() {
				t.Fatalf("reinvite: expected silent denial, got %v %v", res.Outcome, err)
			}
			if invited.Email != snapshot.Email || invited.DecisionAt != snapshot.DecisionAt || invited.AuthTokenHash != snapshot.AuthTokenHash {
				t.Fatalf("reinvite mutated the account")
			}

			requested := newRequestedPending()
			if res, err := w.ApproveUserApplication(actor, &requested); err != nil || !res.Denied() {
				t.Fatalf("approve: expected silent denial, got %v %v", res.Outcome, err)
			}
			if res, err := w.RejectUserApplication(actor, &requested); err != nil || !res.Denied() {
				t.Fatalf("reject: expected silent denial, got %v %v", res.Outcome, err)
			}
			if requested != newRequestedPending() {
				t.Fatalf("decision mutated the account: %+v", requested)
			}
		})
	}
}

func TestTokenFailureIsAnError(t *testing.T) {
	w := New(WithClock(clockwork.NewFakeClockAt(epoch)), WithTokenGenerator(failingTokens{}))
	target := newRequestedPending()
	if _, err := w.ApproveUserApplication(newModerator(), &target); err == nil {
		t.Fatalf("expected token error")
	}
	if target.ModeratorDecision != models.DecisionNone {
		t.Fatalf("failed approve must not mutate the account")
	}
}

func TestDefaultWorkflowIssuesUniqueTokens(t *testing.T) {
	w := New()
	a := newRequestedPending()
	b := newRequestedPending()
	ra, err := w.ApproveUserApplication(newModerator(), &a)
	if err != nil {
		t.Fatalf("approve a: %v", err)
	}
	rb, err := w.ApproveUserApplication(newModerator(), &b)
	if err != nil {
		t.Fatalf("approve b: %v", err)
	}
	if ra.Token == rb.Token || *a.AuthTokenHash == *b.AuthTokenHash {
		t.Fatalf("expected unique tokens")
	}
}

func newClosed() models.User {
	u := newInvitedPending()
	u.ID = "cl-1"
	u.Email = "closed@test.test"
	u.IsActive = true
	closedAt := epoch.Add(-time.Minute)
	u.ClosedAt = &closedAt
	return u
}

func TestModeratorCanReopenAccount(t *testing.T) {
	w, clock := newWorkflow()
	mod := newModerator()
	target := newClosed()
	prevAt := *target.DecisionAt
	prevHash := *target.AuthTokenHash
	clock.Advance(time.Minute)

	res, err := w.ReopenAccount(mod, &target)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !res.Applied() {
		t.Fatalf("expected applied outcome, got %s (%s)", res.Outcome, res.Reason)
	}
	if target.ClosedAt != nil || target.IsActive {
		t.Fatalf("reopened account must be open and awaiting activation: %+v", target)
	}
	if *target.AuthTokenHash == prevHash || res.Token == "" {
		t.Fatalf("expected a fresh auth token")
	}
	if !target.DecisionAt.After(prevAt) {
		t.Fatalf("expected decision time to move forward")
	}
	if target.ModeratorID == nil || *target.ModeratorID != mod.ID {
		t.Fatalf("expected moderator %q, got %v", mod.ID, target.ModeratorID)
	}
	if target.ModeratorDecision != models.DecisionPreApproved {
		t.Fatalf("existing approval must be kept, got %q", target.ModeratorDecision)
	}
}

func TestReopenApprovesUndecidedAccount(t *testing.T) {
	for _, decision := range []models.ModeratorDecision{models.DecisionNone, models.DecisionRejected} {
		t.Run(string(decision), func(t *testing.T) {
			w, _ := newWorkflow()
			target := newClosed()
			target.ModeratorDecision = decision

			if _, err := w.ReopenAccount(newModerator(), &target); err != nil {
				t.Fatalf("reopen: %v", err)
			}
			if target.ModeratorDecision != models.DecisionApproved {
				t.Fatalf("expected approved, got %q", target.ModeratorDecision)
			}
		})
	}
}

func TestStandardUserCannotReopenAccount(t *testing.T) {
	w, _ := newWorkflow()
	target := newClosed()
	before := target

	res, err := w.ReopenAccount(newStandard(), &target)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !res.Denied() || res.Token != "" {
		t.Fatalf("expected silent denial, got %+v", res)
	}
	if target != before {
		t.Fatalf("denied reopen mutated the account: %+v", target)
	}
}

func TestReopenTokenFailureLeavesAccountClosed(t *testing.T) {
	w := New(WithClock(clockwork.NewFakeClockAt(epoch)), WithTokenGenerator(failingTokens{}))
	target := newClosed()
	if _, err := w.ReopenAccount(newModerator(), &target); err == nil {
		t.Fatalf("expected token error")
	}
	if target.ClosedAt == nil {
		t.Fatalf("failed reopen must not mutate the account")
	}
}
