package models

import "time"

type Role string

const (
	RoleModerator Role = "moderator"
	RoleStandard  Role = "user"
)

type RegistrationMethod string

const (
	RegistrationInvited   RegistrationMethod = "invited"
	RegistrationRequested RegistrationMethod = "requested"
)

// ModeratorDecision is empty while an account is pending.
type ModeratorDecision string

const (
	DecisionNone        ModeratorDecision = ""
	DecisionPreApproved ModeratorDecision = "pre_approved"
	DecisionApproved    ModeratorDecision = "approved"
	DecisionRejected    ModeratorDecision = "rejected"
)

type User struct {
	ID                 string
	Email              string
	FirstName          string
	LastName           string
	PasswordHash       string
	Role               Role
	IsActive           bool
	RegistrationMethod RegistrationMethod
	ModeratorID        *string
	ModeratorDecision  ModeratorDecision
	DecisionAt         *time.Time
	AuthTokenHash      *string
	Bio                string
	CreatedAt          time.Time
	ActivatedAt        *time.Time
	ClosedAt           *time.Time
	LastLoginAt        *time.Time
}

func (u User) IsModerator() bool { return u.Role == RoleModerator }

func (u User) IsClosed() bool { return u.ClosedAt != nil }

// IsPending reports whether the account still waits for a moderator decision.
func (u User) IsPending() bool { return u.ModeratorDecision == DecisionNone }

func (u User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}

type Session struct {
	ID            string
	UserID        string
	TokenHash     string
	IPHint        string
	UserAgentHash string
	ExpiresAt     time.Time
	IdleExpiresAt time.Time
	CreatedAt     time.Time
	LastSeenAt    time.Time
	RevokedAt     *time.Time
}

type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

type AuditEntry struct {
	ID           string    `json:"id"`
	ActorUserID  string    `json:"actor_user_id"`
	Action       string    `json:"action"`
	Target       string    `json:"target"`
	MetadataJSON string    `json:"metadata_json"`
	SummaryText  string    `json:"summary_text,omitempty"`
	Severity     string    `json:"severity,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// MaxProficiency is the top of the skill proficiency scale.
const MaxProficiency = 5

type Skill struct {
	Name        string `json:"name"`
	Proficiency int    `json:"proficiency"`
}

func (s Skill) ProficiencyPercent() int {
	if s.Proficiency <= 0 {
		return 0
	}
	if s.Proficiency >= MaxProficiency {
		return 100
	}
	return s.Proficiency * 100 / MaxProficiency
}

type Link struct {
	Anchor  string  `json:"anchor"`
	URL     string  `json:"url"`
	BrandID *string `json:"brand_id,omitempty"`
}

type LinkBrand struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Icon   string `json:"icon"`
}

type Profile struct {
	User   User
	Skills []Skill
	Links  []Link
}

type UserQuery struct {
	Status string
	Role   string
	Limit  int
	Offset int
}

// RequestQuery filters self-requested accounts. Decision "pending" selects
// accounts without a moderator decision.
type RequestQuery struct {
	Decision string
	Limit    int
	Offset   int
}
