package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// RESTHandler exposes game creation, lobby registration and read-only views.
type RESTHandler struct {
	service GameService
}

func NewRESTHandler(service GameService) *RESTHandler {
	return &RESTHandler{service: service}
}

type createGameRequest struct {
	QuizSetID string `json:"quizSetId"`
}

type joinRequest struct {
	Nickname string `json:"nickname"`
}

func (h *RESTHandler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuizSetID == "" {
		http.Error(w, "quizSetId is required", http.StatusBadRequest)
		return
	}
	game, err := h.service.CreateGame(r.Context(), req.QuizSetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, game)
}

func (h *RESTHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Nickname == "" {
		http.Error(w, "nickname is required", http.StatusBadRequest)
		return
	}
	p, err := h.service.Join(r.Context(), mux.Vars(r)["id"], req.Nickname)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *RESTHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.Snapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// Leaderboard returns the standings; ?top=N limits the list (the host view shows 8).
func (h *RESTHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.service.Leaderboard(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "top must be a non-negative integer", http.StatusBadRequest)
			return
		}
		board = board.Top(n)
	}
	writeJSON(w, http.StatusOK, board)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorPayload{Code: domain.Code(err), Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrGameNotFound),
		errors.Is(err, domain.ErrParticipantNotFound),
		errors.Is(err, domain.ErrQuizSetNotFound),
		errors.Is(err, domain.ErrChoiceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDuplicateAnswer),
		errors.Is(err, domain.ErrAnswerWindowClosed),
		errors.Is(err, domain.ErrGameStarted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidQuizSet):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrGameOwnedElsewhere):
		return http.StatusMisdirectedRequest
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
