package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"accounts/internal/middleware"
	"accounts/internal/models"
	"accounts/internal/util"
)

func (h *Handlers) ListRequests(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	page, pageSize := parsePagination(r)
	decision := r.URL.Query().Get("decision")
	if decision == "" {
		decision = "pending"
	}
	items, total, err := h.svc.ListRequests(r.Context(), actor, models.RequestQuery{
		Decision: decision,
		Limit:    pageSize,
		Offset:   (page - 1) * pageSize,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"items": viewUsers(items), "total": total, "page": page, "page_size": pageSize})
}

func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	page, pageSize := parsePagination(r)
	items, total, err := h.svc.ListUsers(r.Context(), actor, models.UserQuery{
		Status: r.URL.Query().Get("status"),
		Role:   r.URL.Query().Get("role"),
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"items": viewUsers(items), "total": total, "page": page, "page_size": pageSize})
}

func (h *Handlers) AuditLog(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	page, pageSize := parsePagination(r)
	items, total, err := h.svc.ListAudit(r.Context(), actor, pageSize, (page-1)*pageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"items": items, "total": total, "page": page, "page_size": pageSize})
}

type inviteRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *Handlers) Invite(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	var req inviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.InviteUser(r.Context(), actor, req.Email, req.FirstName, req.LastName)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeModeration(w, r, http.StatusCreated, res)
}

func (h *Handlers) Reinvite(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.ReinviteUser(r.Context(), actor, chi.URLParam(r, "id"), req.Email)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeModeration(w, r, http.StatusOK, res)
}

func (h *Handlers) Approve(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	res, err := h.svc.ApproveApplication(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeModeration(w, r, http.StatusOK, res)
}

func (h *Handlers) Reject(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	res, err := h.svc.RejectApplication(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeModeration(w, r, http.StatusOK, res)
}

func (h *Handlers) Reopen(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	res, err := h.svc.ReopenAccount(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeModeration(w, r, http.StatusOK, res)
}

func (h *Handlers) AddLinkBrand(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.User(r.Context())
	var req struct {
		Name   string `json:"name"`
		Domain string `json:"domain"`
		Icon   string `json:"icon"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	brand, err := h.svc.AddLinkBrand(r.Context(), actor, req.Name, req.Domain, req.Icon)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, brand)
}
