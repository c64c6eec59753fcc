package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pikecode/licpanel/internal/auth"
	"github.com/pikecode/licpanel/pkg/types"
)

// Engine is the reconciliation surface the transport shim calls into.
type Engine interface {
	ListPending(ctx context.Context) []types.RequestRecord
	Resync(ctx context.Context) ([]types.RequestRecord, int)
	Approve(ctx context.Context, machineCode string, expireHours int) (string, error)
	Reject(ctx context.Context, machineCode string, reason string) (string, error)
	ProcessedCount() int
	ProcessedSample(n int) []string
	ProbeRequests(ctx context.Context) (int, error)
}

// StoreSummary is the non-secret slice of store configuration reported by
// the debug endpoint.
type StoreSummary struct {
	Repo        string `json:"repo"`
	APIBase     string `json:"api_base"`
	TokenLength int    `json:"token_length"`
}

type Handler struct {
	Auth               auth.Authenticator
	Engine             Engine
	DefaultExpireHours int
	DefaultReason      string
	Store              StoreSummary
	Logger             *slog.Logger

	validate *validator.Validate
}

func NewHandler(authn auth.Authenticator, engine Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Auth:               authn,
		Engine:             engine,
		DefaultExpireHours: 720,
		DefaultReason:      "request rejected",
		Logger:             logger,
		validate:           validator.New(),
	}
}

type approvePayload struct {
	MachineCode string `json:"machine_code" validate:"required"`
	ExpireHours *int   `json:"expire_hours" validate:"omitempty,gt=0"`
}

type rejectPayload struct {
	MachineCode string `json:"machine_code" validate:"required"`
	Reason      string `json:"reason"`
}

func (h *Handler) Requests(w http.ResponseWriter, r *http.Request) {
	if !h.ensureAuth(w, r) {
		return
	}

	pending := h.Engine.ListPending(r.Context())
	if pending == nil {
		pending = []types.RequestRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": pending})
}

func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	if !h.ensureAuth(w, r) {
		return
	}

	pending, processed := h.Engine.Resync(r.Context())
	if pending == nil {
		pending = []types.RequestRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         "sync complete",
		"data":            pending,
		"processed_count": processed,
	})
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	if !h.ensureAuth(w, r) {
		return
	}

	var payload approvePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		writeError(w, http.StatusBadRequest, approveValidationMessage(err))
		return
	}

	hours := h.DefaultExpireHours
	if payload.ExpireHours != nil {
		hours = *payload.ExpireHours
	}

	h.Logger.Info("approve requested", "machine_code", payload.MachineCode, "expire_hours", hours)
	message, err := h.Engine.Approve(r.Context(), payload.MachineCode, hours)
	if err != nil {
		h.Logger.Error("approve failed", "machine_code", payload.MachineCode, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": message})
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	if !h.ensureAuth(w, r) {
		return
	}

	var payload rejectPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		writeError(w, http.StatusBadRequest, "device identifier required")
		return
	}

	reason := payload.Reason
	if reason == "" {
		reason = h.DefaultReason
	}

	h.Logger.Info("reject requested", "machine_code", payload.MachineCode, "reason", reason)
	message, err := h.Engine.Reject(r.Context(), payload.MachineCode, reason)
	if err != nil {
		h.Logger.Error("reject failed", "machine_code", payload.MachineCode, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": message})
}

func (h *Handler) Debug(w http.ResponseWriter, r *http.Request) {
	if !h.ensureAuth(w, r) {
		return
	}

	now := time.Now()
	info := map[string]any{
		"timestamp":                 now.Unix(),
		"formatted_time":            now.Format(types.TimeLayout),
		"processed_requests_count":  h.Engine.ProcessedCount(),
		"processed_requests_sample": h.Engine.ProcessedSample(10),
		"store":                     h.Store,
	}

	if count, err := h.Engine.ProbeRequests(r.Context()); err != nil {
		info["requests_folder"] = map[string]any{"status": "error", "error": err.Error()}
	} else {
		info["requests_folder"] = map[string]any{"status": "accessible", "file_count": count}
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "debug_info": info})
}

func (h *Handler) ensureAuth(w http.ResponseWriter, r *http.Request) bool {
	if _, err := h.Auth.Authenticate(r); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return false
	}
	return true
}

func approveValidationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			if fe.Field() == "ExpireHours" {
				return "invalid expiry"
			}
		}
	}
	return "device identifier required"
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
