package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lehigh-university-libraries/instructgen/internal/models"
)

func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := h.sessionStore.Create()
	slog.Info("Session created", "session_id", sess.ID(), "sessions", h.sessionStore.Count())
	w.Header().Set("Location", "/api/sessions/"+sess.ID())
	h.writeJSON(w, http.StatusCreated, h.snapshot(sess))
}

func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessionStore.GetAll()
	sessionList := make([]models.SessionSnapshot, 0, len(sessions))
	for _, sess := range sessions {
		sessionList = append(sessionList, h.snapshot(sess))
	}
	h.writeJSON(w, http.StatusOK, sessionList)
}

func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.snapshot(sess))
}

func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if !h.sessionStore.Delete(sessionID) {
		h.writeError(w, "Session not found", http.StatusNotFound)
		return
	}
	slog.Info("Session deleted", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleAnalyze starts a run in the background and answers 202 with the
// Analyzing snapshot. Clients poll the session for the outcome.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	if _, err := h.orchestrator.Start(h.runCtx, sess); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, h.snapshot(sess))
}

func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	sess.Reset()
	slog.Info("Session reset", "session_id", sess.ID())
	h.writeJSON(w, http.StatusOK, h.snapshot(sess))
}
