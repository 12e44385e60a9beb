// Package profile validates the profile and account settings forms and
// matches profile links to known link brands.
package profile

import (
	"fmt"
	"net/mail"
	"net/url"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"accounts/internal/models"
)

const (
	maxNameLength = 100
	maxBioLength  = 2000
	maxSkills     = 50
	maxLinks      = 20
)

var bioPolicy = bluemonday.StrictPolicy()

// ValidationErrors maps a form field to a message.
type ValidationErrors map[string]string

func (e ValidationErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e ValidationErrors) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

type SkillRow struct {
	Name        string `json:"name"`
	Proficiency int    `json:"proficiency"`
}

type LinkRow struct {
	Anchor string `json:"anchor"`
	URL    string `json:"url"`
}

type Form struct {
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Bio       string     `json:"bio"`
	Skills    []SkillRow `json:"skills"`
	Links     []LinkRow  `json:"links"`
}

// Cleaned is a validated Form ready to be stored.
type Cleaned struct {
	FirstName string
	LastName  string
	Bio       string
	Skills    []models.Skill
	Links     []models.Link
}

// Validate checks the form and returns the rows to store. Rows with every
// field empty are dropped.
func (f Form) Validate(brands []models.LinkBrand) (Cleaned, error) {
	errs := ValidationErrors{}
	out := Cleaned{
		FirstName: strings.TrimSpace(f.FirstName),
		LastName:  strings.TrimSpace(f.LastName),
		Bio:       SanitizeBio(f.Bio),
		Skills:    []models.Skill{},
		Links:     []models.Link{},
	}
	if len(out.FirstName) > maxNameLength {
		errs["first_name"] = "too long"
	}
	if len(out.LastName) > maxNameLength {
		errs["last_name"] = "too long"
	}
	if len(out.Bio) > maxBioLength {
		errs["bio"] = "too long"
	}

	seenSkills := map[string]bool{}
	for i, row := range f.Skills {
		name := strings.TrimSpace(row.Name)
		if name == "" && row.Proficiency == 0 {
			continue
		}
		field := fmt.Sprintf("skills[%d]", i)
		switch {
		case name == "":
			errs[field+".name"] = "skill is required when proficiency is set"
		case row.Proficiency == 0:
			errs[field+".proficiency"] = "proficiency is required when skill is set"
		case row.Proficiency < 1 || row.Proficiency > models.MaxProficiency:
			errs[field+".proficiency"] = fmt.Sprintf("proficiency must be between 1 and %d", models.MaxProficiency)
		case seenSkills[strings.ToLower(name)]:
			errs[field+".name"] = "skill must be unique"
		default:
			seenSkills[strings.ToLower(name)] = true
			out.Skills = append(out.Skills, models.Skill{Name: name, Proficiency: row.Proficiency})
		}
	}
	if len(out.Skills) > maxSkills {
		errs["skills"] = fmt.Sprintf("at most %d skills", maxSkills)
	}

	seenURLs := map[string]bool{}
	seenAnchors := map[string]bool{}
	for i, row := range f.Links {
		anchor := strings.TrimSpace(row.Anchor)
		raw := strings.TrimSpace(row.URL)
		if anchor == "" && raw == "" {
			continue
		}
		field := fmt.Sprintf("links[%d]", i)
		if anchor == "" {
			errs[field+".anchor"] = "anchor is required when url is set"
			continue
		}
		if raw == "" {
			errs[field+".url"] = "url is required when anchor is set"
			continue
		}
		if !validURL(raw) {
			errs[field+".url"] = "must be an http or https url"
			continue
		}
		if seenURLs[raw] {
			errs[field+".url"] = "url must be unique"
			continue
		}
		if seenAnchors[anchor] {
			errs[field+".anchor"] = "anchor must be unique"
			continue
		}
		seenURLs[raw] = true
		seenAnchors[anchor] = true
		out.Links = append(out.Links, models.Link{Anchor: anchor, URL: raw, BrandID: MatchBrand(raw, brands)})
	}
	if len(out.Links) > maxLinks {
		errs["links"] = fmt.Sprintf("at most %d links", maxLinks)
	}

	if err := errs.orNil(); err != nil {
		return Cleaned{}, err
	}
	return out, nil
}

// SanitizeBio strips all markup from a user supplied bio.
func SanitizeBio(bio string) string {
	return strings.TrimSpace(bioPolicy.Sanitize(bio))
}

// MatchBrand returns the id of the brand whose domain serves rawURL. The
// domain matches the host itself or any of its subdomains.
func MatchBrand(rawURL string, brands []models.LinkBrand) *string {
	host := HostOf(rawURL)
	if host == "" {
		return nil
	}
	for _, b := range brands {
		if BrandMatches(host, b.Domain) {
			id := b.ID
			return &id
		}
	}
	return nil
}

func BrandMatches(host, domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// HostOf returns the lower-cased host of rawURL without a leading "www.".
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

type SettingsForm struct {
	Email           string `json:"email"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// ChangesPassword reports whether any password field was filled in.
func (f SettingsForm) ChangesPassword() bool {
	return f.CurrentPassword != "" || f.NewPassword != "" || f.ConfirmPassword != ""
}

// Validate checks the shape of the settings form. Whether the email is free
// and the current password is right is checked against the store.
func (f SettingsForm) Validate() error {
	errs := ValidationErrors{}
	if err := ValidateEmail(f.Email); err != nil {
		errs["email"] = err.Error()
	}
	if f.ChangesPassword() {
		if f.CurrentPassword == "" {
			errs["current_password"] = "current password is required to change the password"
		}
		if f.NewPassword == "" {
			errs["new_password"] = "new password is required"
		}
		if f.ConfirmPassword == "" {
			errs["confirm_password"] = "password confirmation is required"
		} else if f.NewPassword != f.ConfirmPassword {
			errs["confirm_password"] = "passwords do not match"
		}
	}
	return errs.orNil()
}

// ValidateEmail accepts a bare address, without a display name.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return fmt.Errorf("invalid email address")
	}
	return nil
}
