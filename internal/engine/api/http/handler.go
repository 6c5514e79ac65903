// Package httpapi exposes the game engine over a thin HTTP surface. Caller
// identity arrives in the X-User-ID header; authentication itself lives in
// front of this service.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/duetapp/duet/internal/engine/domain"
	"github.com/duetapp/duet/internal/engine/service"
	apperrors "github.com/duetapp/duet/internal/errors"
)

// maxAudioBytes caps uploaded voice audio at 10MB.
const maxAudioBytes = 10 << 20

// maxJSONBytes caps JSON request bodies at 1MB.
const maxJSONBytes = 1 << 20

// identityHeader names the header carrying the authenticated caller.
const identityHeader = "X-User-ID"

// Handler maps the HTTP routes onto the engine service.
type Handler struct {
	svc *service.Service
}

// NewHandler builds the HTTP handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Router assembles the route tree.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.createSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.getSession)
				r.Post("/accept", h.acceptInvitation)
				r.Post("/decline", h.declineInvitation)
				r.Post("/statements", h.submitStatements)
				r.Post("/answers", h.submitAnswers)
				r.Post("/voice-answers/{questionNumber}", h.submitVoiceAnswer)
				r.Post("/transcriptions/{slot}/retry", h.retryTranscription)
				r.Get("/results", h.getResults)
				r.Post("/discussion", h.postDiscussionNote)
				r.Post("/discussion/{noteIndex}/listened", h.markNoteListened)
				r.Post("/restart/request", h.requestRestart)
				r.Post("/restart/accept", h.acceptRestart)
				r.Post("/restart/decline", h.declineRestart)
				r.Post("/cancel", h.cancelSession)
			})
		})
		r.Get("/users/{userID}/sessions", h.listUserSessions)
	})
	return r
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Variant   string `json:"variant"`
		MatchID   string `json:"match_id"`
		InviteeID string `json:"invitee_id"`
	}
	if !h.decodeJSON(w, r, &body) {
		return
	}
	view, err := h.svc.CreateInvitation(r.Context(), service.CreateInvitationInput{
		Variant:   domain.VariantFromLabel(body.Variant),
		MatchID:   body.MatchID,
		InviterID: callerID,
		InviteeID: body.InviteeID,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	view, err := h.svc.GetSessionState(r.Context(), chi.URLParam(r, "sessionID"), callerID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.svc.AcceptInvitation)
}

func (h *Handler) declineInvitation(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.svc.DeclineInvitation)
}

func (h *Handler) requestRestart(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.svc.RequestRestart)
}

func (h *Handler) acceptRestart(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.svc.AcceptRestart)
}

func (h *Handler) declineRestart(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.svc.DeclineRestart)
}

func (h *Handler) cancelSession(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	// An empty body is a cancel without a reason.
	if r.ContentLength > 0 && !h.decodeJSON(w, r, &body) {
		return
	}
	view, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "sessionID"), callerID, body.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) submitStatements(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Rounds []domain.StatementRound `json:"rounds"`
	}
	if !h.decodeJSON(w, r, &body) {
		return
	}
	view, err := h.svc.SubmitStatements(r.Context(), chi.URLParam(r, "sessionID"), callerID, body.Rounds)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) submitAnswers(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Answers []domain.Answer `json:"answers"`
	}
	if !h.decodeJSON(w, r, &body) {
		return
	}
	view, err := h.svc.SubmitAnswers(r.Context(), chi.URLParam(r, "sessionID"), callerID, body.Answers)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) submitVoiceAnswer(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	questionNumber, err := strconv.Atoi(chi.URLParam(r, "questionNumber"))
	if err != nil {
		respondError(w, apperrors.New(apperrors.CodeQuestionOutOfRange, "question number must be an integer"))
		return
	}
	audio, mimeType, duration, _, ok := h.readAudioForm(w, r)
	if !ok {
		return
	}
	view, err := h.svc.SubmitVoiceAnswer(r.Context(), chi.URLParam(r, "sessionID"), callerID, service.VoiceAnswerInput{
		QuestionNumber:  questionNumber,
		Audio:           audio,
		MimeType:        mimeType,
		DurationSeconds: duration,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) retryTranscription(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	view, err := h.svc.RetryTranscription(r.Context(), chi.URLParam(r, "sessionID"), callerID, chi.URLParam(r, "slot"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) getResults(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	view, err := h.svc.GetResults(r.Context(), chi.URLParam(r, "sessionID"), callerID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) postDiscussionNote(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	audio, mimeType, duration, roundNumber, ok := h.readAudioForm(w, r)
	if !ok {
		return
	}
	view, err := h.svc.PostDiscussionNote(r.Context(), chi.URLParam(r, "sessionID"), callerID, service.DiscussionNoteInput{
		Audio:           audio,
		MimeType:        mimeType,
		DurationSeconds: duration,
		RoundNumber:     roundNumber,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func (h *Handler) markNoteListened(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	noteIndex, err := strconv.Atoi(chi.URLParam(r, "noteIndex"))
	if err != nil {
		respondError(w, apperrors.New(apperrors.CodeNoteIndexOutOfRange, "note index must be an integer"))
		return
	}
	view, err := h.svc.MarkDiscussionNoteListened(r.Context(), chi.URLParam(r, "sessionID"), callerID, noteIndex)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) listUserSessions(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "userID")
	if userID != callerID {
		respondError(w, apperrors.New(apperrors.CodeForbidden, "sessions may only be listed for the caller"))
		return
	}
	views, err := h.svc.ListSessionsForUser(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

// sessionAction is the shared shape of actions that take only the session ID
// and the caller.
func (h *Handler) sessionAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, sessionID, callerID string) (service.SessionView, error)) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	view, err := action(r.Context(), chi.URLParam(r, "sessionID"), callerID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	callerID := strings.TrimSpace(r.Header.Get(identityHeader))
	if callerID == "" {
		respondJSON(w, http.StatusUnauthorized, errorBody{
			Code:    "UNAUTHENTICATED",
			Message: "missing " + identityHeader + " header",
		})
		return "", false
	}
	return callerID, true
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{
			Code:    "BODY_INVALID",
			Message: "request body is not valid JSON",
		})
		return false
	}
	return true
}

// readAudioForm extracts the multipart audio upload: an "audio" file part
// plus "duration_seconds" and optional "round_number" fields.
func (h *Handler) readAudioForm(w http.ResponseWriter, r *http.Request) (audio []byte, mimeType string, duration int, roundNumber *int, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{
			Code:    "BODY_INVALID",
			Message: "request is not valid multipart form data",
		})
		return nil, "", 0, nil, false
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, apperrors.New(apperrors.CodeEmptyAudio, "audio file part is required"))
		return nil, "", 0, nil, false
	}
	defer file.Close()

	audio, err = io.ReadAll(file)
	if err != nil {
		respondError(w, apperrors.Wrap(apperrors.CodeMediaUnavailable, "read audio upload", err))
		return nil, "", 0, nil, false
	}
	mimeType = header.Header.Get("Content-Type")

	if raw := r.FormValue("duration_seconds"); raw != "" {
		duration, err = strconv.Atoi(raw)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorBody{
				Code:    "BODY_INVALID",
				Message: "duration_seconds must be an integer",
			})
			return nil, "", 0, nil, false
		}
	}
	if raw := r.FormValue("round_number"); raw != "" {
		round, err := strconv.Atoi(raw)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorBody{
				Code:    "BODY_INVALID",
				Message: "round_number must be an integer",
			})
			return nil, "", 0, nil, false
		}
		roundNumber = &round
	}
	return audio, mimeType, duration, roundNumber, true
}
