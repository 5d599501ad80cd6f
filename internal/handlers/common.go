package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lehigh-university-libraries/instructgen/internal/analysis"
	"github.com/lehigh-university-libraries/instructgen/internal/gateway"
	"github.com/lehigh-university-libraries/instructgen/internal/media"
	"github.com/lehigh-university-libraries/instructgen/internal/models"
	"github.com/lehigh-university-libraries/instructgen/internal/session"
	"github.com/lehigh-university-libraries/instructgen/internal/storage"
)

// errInvalidRequest marks request bodies the handlers could not use
var errInvalidRequest = errors.New("invalid request")

type Handler struct {
	// runCtx outlives single requests; background analyses use it
	runCtx         context.Context
	sessionStore   *storage.SessionStore
	orchestrator   *analysis.Orchestrator
	fetcher        *media.Fetcher
	maxUploadBytes int64
}

func New(runCtx context.Context, store *storage.SessionStore, orchestrator *analysis.Orchestrator, fetcher *media.Fetcher, maxUploadBytes int64) *Handler {
	return &Handler{
		runCtx:         runCtx,
		sessionStore:   store,
		orchestrator:   orchestrator,
		fetcher:        fetcher,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes adds the session API to r
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/sessions", h.HandleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions", h.HandleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", h.HandleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", h.HandleDeleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/api/sessions/{id}/original", h.HandleSetOriginal).Methods(http.MethodPut)
	r.HandleFunc("/api/sessions/{id}/original", h.HandleRemoveOriginal).Methods(http.MethodDelete)
	r.HandleFunc("/api/sessions/{id}/editions", h.HandleAddEdition).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}/editions/{editionId}", h.HandleRemoveEdition).Methods(http.MethodDelete)
	r.HandleFunc("/api/sessions/{id}/images/{imageId}", h.HandleImage).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/analyze", h.HandleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}/reset", h.HandleReset).Methods(http.MethodPost)
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		slog.Error(message)
	} else {
		slog.Debug(message, "status", code)
	}
	h.writeJSON(w, code, map[string]string{"error": message})
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	h.writeError(w, err.Error(), statusFor(err))
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var svcErr *gateway.ServiceError
	var encErr *media.EncodingError
	switch {
	case errors.Is(err, session.ErrImageNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAnalysisInProgress):
		return http.StatusConflict
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, session.ErrNoOriginal),
		errors.Is(err, session.ErrNoEditions),
		errors.Is(err, session.ErrDuplicateEdition),
		errors.Is(err, media.ErrEmptyImage),
		errors.Is(err, media.ErrUnsupportedType),
		errors.As(err, &encErr):
		return http.StatusBadRequest
	case errors.As(err, &svcErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Session helpers
func (h *Handler) getSessionOrError(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, exists := h.sessionStore.Get(mux.Vars(r)["id"])
	if !exists {
		h.writeError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

// snapshot returns the session state with preview urls filled in
func (h *Handler) snapshot(sess *session.Session) models.SessionSnapshot {
	snap := sess.Snapshot()
	if snap.Original != nil {
		snap.Original.PreviewURL = previewURL(snap.ID, snap.Original.ID)
	}
	for i := range snap.Editions {
		snap.Editions[i].PreviewURL = previewURL(snap.ID, snap.Editions[i].ID)
	}
	return snap
}

func previewURL(sessionID, imageID string) string {
	return "/api/sessions/" + sessionID + "/images/" + imageID
}
