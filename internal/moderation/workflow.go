// Package moderation implements the account moderation state machine:
// inviting, reinviting, approving, rejecting and reopening accounts.
//
// The workflow only mutates in-memory records. Persisting the result,
// notifying people and auditing are the caller's job. Every transition is
// gated by a policy capability check; an actor without the capability gets a
// Result with OutcomeDenied and the target record is left untouched.
package moderation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"accounts/internal/auth"
	"accounts/internal/models"
	"accounts/internal/policy"
)

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeDenied  Outcome = "denied"
)

// TokenGenerator issues an activation token and the hash that gets stored.
type TokenGenerator interface {
	Generate() (raw string, hash string, err error)
}

// Result describes what a transition did. Account and Token are only set when
// Outcome is OutcomeApplied; Token is the raw activation token to deliver.
type Result struct {
	Outcome Outcome
	Reason  string
	Account models.User
	Token   string
}

func (r Result) Applied() bool { return r.Outcome == OutcomeApplied }

func (r Result) Denied() bool { return r.Outcome == OutcomeDenied }

func denied(v policy.Verdict) Result {
	return Result{Outcome: OutcomeDenied, Reason: v.Reason}
}

type Workflow struct {
	clock  clockwork.Clock
	tokens TokenGenerator
}

type Option func(*Workflow)

func WithClock(c clockwork.Clock) Option {
	return func(w *Workflow) { w.clock = c }
}

func WithTokenGenerator(g TokenGenerator) Option {
	return func(w *Workflow) { w.tokens = g }
}

func New(opts ...Option) *Workflow {
	w := &Workflow{clock: clockwork.NewRealClock(), tokens: auth.TokenGenerator{}}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// InviteNewUser builds a pre-approved invited account on behalf of actor.
func (w *Workflow) InviteNewUser(actor models.User, email, firstName, lastName string) (Result, error) {
	if v := policy.Check(actor, policy.CapInvite); !v.Allowed {
		return denied(v), nil
	}
	raw, hash, err := w.tokens.Generate()
	if err != nil {
		return Result{}, fmt.Errorf("generate auth token: %w", err)
	}
	now := w.now()
	moderatorID := actor.ID
	u := models.User{
		ID:                 uuid.NewString(),
		Email:              NormalizeEmail(email),
		FirstName:          strings.TrimSpace(firstName),
		LastName:           strings.TrimSpace(lastName),
		Role:               models.RoleStandard,
		RegistrationMethod: models.RegistrationInvited,
		ModeratorID:        &moderatorID,
		ModeratorDecision:  models.DecisionPreApproved,
		DecisionAt:         &now,
		AuthTokenHash:      &hash,
		CreatedAt:          now,
	}
	return Result{Outcome: OutcomeApplied, Account: u, Token: raw}, nil
}

// ReinviteUser points target at a new email and issues a fresh token and
// decision time, both different from the previous ones.
func (w *Workflow) ReinviteUser(actor models.User, target *models.User, email string) (Result, error) {
	if v := policy.Check(actor, policy.CapReinvite); !v.Allowed {
		return denied(v), nil
	}
	raw, hash, err := w.freshToken(target.AuthTokenHash)
	if err != nil {
		return Result{}, err
	}
	now := w.nowAfter(target.DecisionAt)
	target.Email = NormalizeEmail(email)
	target.DecisionAt = &now
	target.AuthTokenHash = &hash
	return Result{Outcome: OutcomeApplied, Account: *target, Token: raw}, nil
}

func (w *Workflow) ApproveUserApplication(actor models.User, target *models.User) (Result, error) {
	return w.decide(actor, target, models.DecisionApproved)
}

func (w *Workflow) RejectUserApplication(actor models.User, target *models.User) (Result, error) {
	return w.decide(actor, target, models.DecisionRejected)
}

func (w *Workflow) decide(actor models.User, target *models.User, decision models.ModeratorDecision) (Result, error) {
	if v := policy.Check(actor, policy.CapDecide); !v.Allowed {
		return denied(v), nil
	}
	raw, hash, err := w.freshToken(target.AuthTokenHash)
	if err != nil {
		return Result{}, err
	}
	now := w.nowAfter(target.DecisionAt)
	moderatorID := actor.ID
	target.ModeratorID = &moderatorID
	target.ModeratorDecision = decision
	target.DecisionAt = &now
	target.AuthTokenHash = &hash
	return Result{Outcome: OutcomeApplied, Account: *target, Token: raw}, nil
}

// ReopenAccount prepares a closed account for a new activation: it clears
// closed_at, keeps the account inactive and issues a fresh token and decision
// time. Accounts that were never approved become approved by actor.
func (w *Workflow) ReopenAccount(actor models.User, target *models.User) (Result, error) {
	if v := policy.Check(actor, policy.CapReopen); !v.Allowed {
		return denied(v), nil
	}
	raw, hash, err := w.freshToken(target.AuthTokenHash)
	if err != nil {
		return Result{}, err
	}
	now := w.nowAfter(target.DecisionAt)
	moderatorID := actor.ID
	target.ModeratorID = &moderatorID
	if target.ModeratorDecision != models.DecisionPreApproved && target.ModeratorDecision != models.DecisionApproved {
		target.ModeratorDecision = models.DecisionApproved
	}
	target.DecisionAt = &now
	target.AuthTokenHash = &hash
	target.IsActive = false
	target.ClosedAt = nil
	return Result{Outcome: OutcomeApplied, Account: *target, Token: raw}, nil
}

func (w *Workflow) freshToken(previous *string) (string, string, error) {
	for i := 0; i < 3; i++ {
		raw, hash, err := w.tokens.Generate()
		if err != nil {
			return "", "", fmt.Errorf("generate auth token: %w", err)
		}
		if previous == nil || *previous != hash {
			return raw, hash, nil
		}
	}
	return "", "", fmt.Errorf("generate auth token: source keeps repeating")
}

func (w *Workflow) now() time.Time {
	return w.clock.Now().UTC()
}

// nowAfter never returns a time at or before prev.
func (w *Workflow) nowAfter(prev *time.Time) time.Time {
	now := w.now()
	if prev != nil && !now.After(*prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
