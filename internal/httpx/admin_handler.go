package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-checkout-payments/internal/sweeper"
	"github.com/go-chi/chi/v5"
)

type AdminHandler struct {
	Admin *sweeper.Admin
	Token string
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Route("/admin/orders", func(r chi.Router) {
		r.Use(adminOnly(h.Token))
		r.Post("/purge/plan", h.planPurge)
		r.Post("/purge/execute", h.executePurge)
		r.Get("/stats", h.stats)
		r.Post("/sweep", h.sweep)
	})
}

type ExecutePurgeReq struct {
	ApprovalToken string `json:"approvalToken"`
}

func (h *AdminHandler) planPurge(w http.ResponseWriter, r *http.Request) {
	var req sweeper.PurgeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	plan, err := h.Admin.PlanPurge(r.Context(), adminActor(r), req)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *AdminHandler) executePurge(w http.ResponseWriter, r *http.Request) {
	var req ExecutePurgeReq
	if err := decodeJSON(w, r, &req); err != nil || req.ApprovalToken == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "approvalToken is required")
		return
	}
	actor := adminActor(r)
	res, err := h.Admin.ExecutePurge(r.Context(), actor, req.ApprovalToken)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "orders purged", "actor", actor, "deleted", res.Deleted)
	writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Admin.Stats(r.Context())
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *AdminHandler) sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.Admin.Sweep(r.Context(), adminActor(r))
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sweeper.ErrApprovalInvalid):
		writeError(w, http.StatusForbidden, "APPROVAL_INVALID", err.Error())
	case errors.Is(err, sweeper.ErrApprovalExpired):
		writeError(w, http.StatusForbidden, "APPROVAL_EXPIRED", err.Error())
	case errors.Is(err, sweeper.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, "VALIDATION", err.Error())
	default:
		slog.ErrorContext(r.Context(), "admin request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "admin operation failed")
	}
}
