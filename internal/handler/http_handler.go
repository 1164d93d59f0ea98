package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/capraise-ai/be-deals-service/internal/errors"
	"github.com/capraise-ai/be-deals-service/internal/repository"
	"github.com/capraise-ai/be-deals-service/internal/service"
	"github.com/capraise-ai/be-deals-service/internal/status"
)

// HTTPHandler exposes the deal lifecycle over JSON HTTP. The acting
// identity and role arrive in the request body: the API gateway has
// already authenticated the caller and resolved their role before the
// request reaches this service.
type HTTPHandler struct {
	lifecycle *service.LifecycleService
	log       *zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(lifecycle *service.LifecycleService, log *zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		lifecycle: lifecycle,
		log:       log,
	}
}

// errorResponse is the JSON error body shared by all endpoints.
type errorResponse struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errors.HTTPStatus(err))
	json.NewEncoder(w).Encode(errorResponse{Code: errors.CodeOf(err), Message: err.Error()})
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// TransitionDeal handles deal status transition requests.
func (h *HTTPHandler) TransitionDeal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		DealID       string  `json:"deal_id"`
		TargetStatus string  `json:"target_status"`
		ActingUserID string  `json:"acting_user_id"`
		ActingRole   string  `json:"acting_role"`
		Note         *string `json:"note,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if req.DealID == "" {
		h.writeError(w, errors.InvalidInput("deal_id", "deal id is required"))
		return
	}

	target, err := status.Parse(req.TargetStatus)
	if err != nil {
		h.writeError(w, errors.InvalidInput("target_status", err.Error()))
		return
	}
	role, err := status.ParseRole(req.ActingRole)
	if err != nil {
		h.writeError(w, errors.InvalidInput("acting_role", err.Error()))
		return
	}

	result, err := h.lifecycle.TransitionDeal(r.Context(), &service.TransitionRequest{
		DealID:       req.DealID,
		Target:       target,
		ActingUserID: req.ActingUserID,
		ActingRole:   role,
		Note:         req.Note,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// BulkApprove handles batch approval requests.
func (h *HTTPHandler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		DealIDs      []string `json:"deal_ids"`
		ActingUserID string   `json:"acting_user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if len(req.DealIDs) == 0 {
		h.writeError(w, errors.InvalidInput("deal_ids", "at least one deal id is required"))
		return
	}

	result := h.lifecycle.BulkApprove(r.Context(), req.DealIDs, req.ActingUserID)
	h.writeJSON(w, http.StatusOK, result)
}

// GetDeal handles single-deal reads.
func (h *HTTPHandler) GetDeal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, errors.InvalidInput("id", "deal id is required"))
		return
	}

	deal, err := h.lifecycle.GetDeal(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, dealToResponse(deal))
}

// ListDeals handles filtered deal listings.
func (h *HTTPHandler) ListDeals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := repository.DealFilter{}

	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := status.Parse(raw)
		if err != nil {
			h.writeError(w, errors.InvalidInput("status", err.Error()))
			return
		}
		filter.Status = &st
	}

	if raw := r.URL.Query().Get("category"); raw != "" {
		c := status.Category(raw)
		if len(status.StatesByCategory(c)) == 0 {
			h.writeError(w, errors.InvalidInput("category", "unknown category"))
			return
		}
		filter.Category = &c
	}

	if userID := r.URL.Query().Get("user_id"); userID != "" {
		filter.UserID = &userID
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	deals, total, err := h.lifecycle.ListDeals(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(deals))
	for _, d := range deals {
		out = append(out, dealToResponse(d))
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deals":    out,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// ValidTransitions returns the transitions a role may perform on a
// deal right now, for rendering action menus.
func (h *HTTPHandler) ValidTransitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, errors.InvalidInput("id", "deal id is required"))
		return
	}
	role, err := status.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		h.writeError(w, errors.InvalidInput("role", err.Error()))
		return
	}

	transitions, err := h.lifecycle.AvailableTransitions(r.Context(), id, role)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transitions": transitions})
}

// GetTimeline returns a deal's audit trail.
func (h *HTTPHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, errors.InvalidInput("id", "deal id is required"))
		return
	}

	entries, err := h.lifecycle.GetTimeline(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		item := map[string]interface{}{
			"id":           e.ID,
			"deal_id":      e.DealID,
			"milestone":    e.Milestone,
			"completed":    e.Completed,
			"completed_at": e.CompletedAt,
		}
		if e.Notes != nil {
			item["notes"] = *e.Notes
		}
		out = append(out, item)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"timeline": out})
}

// ActivitySummary returns the dashboard aggregation, optionally
// scoped to one user's deals.
func (h *HTTPHandler) ActivitySummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var userID *string
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID = &raw
	}

	summary, err := h.lifecycle.ActivitySummary(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

// dealToResponse shapes a deal for JSON, enriching the raw status with
// its display metadata.
func dealToResponse(d *repository.Deal) map[string]interface{} {
	resp := map[string]interface{}{
		"id":           d.ID,
		"project_name": d.ProjectName,
		"user_id":      d.UserID,
		"created_at":   d.CreatedAt,
		"updated_at":   d.UpdatedAt,
		"status": map[string]interface{}{
			"value":               string(d.Status),
			"label":               status.Label(d.Status),
			"category":            string(status.Describe(d.Status).Category),
			"color":               status.Color(d.Status),
			"icon":                status.Icon(d.Status),
			"marketplace_visible": status.IsMarketplaceVisible(d.Status),
		},
	}
	if d.Description != nil {
		resp["description"] = *d.Description
	}
	if d.Sponsor != nil {
		resp["sponsor"] = map[string]interface{}{
			"email":     d.Sponsor.Email,
			"full_name": d.Sponsor.FullName,
		}
	}
	return resp
}
