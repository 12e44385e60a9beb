package api

import (
	"net/http"

	"accounts/internal/middleware"
	"accounts/internal/models"
	"accounts/internal/profile"
	"accounts/internal/util"
)

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	util.WriteJSON(w, 200, viewUser(u))
}

type profileView struct {
	User   userView      `json:"user"`
	Bio    string        `json:"bio"`
	Skills []skillView   `json:"skills"`
	Links  []models.Link `json:"links"`
}

type skillView struct {
	models.Skill
	Percent int `json:"percent"`
}

func viewProfile(p models.Profile) profileView {
	out := profileView{User: viewUser(p.User), Bio: p.User.Bio, Skills: []skillView{}, Links: p.Links}
	for _, s := range p.Skills {
		out.Skills = append(out.Skills, skillView{Skill: s, Percent: s.ProficiencyPercent()})
	}
	if out.Links == nil {
		out.Links = []models.Link{}
	}
	return out
}

func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	p, err := h.svc.GetProfile(r.Context(), u.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, viewProfile(p))
}

func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	var form profile.Form
	if !decodeJSON(w, r, &form) {
		return
	}
	p, err := h.svc.UpdateProfile(r.Context(), u.ID, form)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, viewProfile(p))
}

func (h *Handlers) ListLinkBrands(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListLinkBrands(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"items": items})
}

func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	util.WriteJSON(w, 200, map[string]string{"email": u.Email})
}

func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	var form profile.SettingsForm
	if !decodeJSON(w, r, &form) {
		return
	}
	updated, err := h.svc.UpdateSettings(r.Context(), u.ID, form)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, viewUser(updated))
}

func (h *Handlers) CloseAccount(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	var req struct {
		CurrentPassword string `json:"current_password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.CloseAccount(r.Context(), u.ID, req.CurrentPassword); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.clearAuthCookies(w, r)
	util.WriteJSON(w, 200, map[string]string{"status": "closed"})
}
