package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	resyncPeriod = 15 * time.Second
	sendBuffer   = 32
)

// GameService is the subset of the application the transport drives.
type GameService interface {
	CreateGame(ctx context.Context, quizSetID string) (domain.Game, error)
	Join(ctx context.Context, gameID, nickname string) (domain.Participant, error)
	Participant(ctx context.Context, gameID, participantID string) (domain.Participant, error)
	StartGame(ctx context.Context, gameID string) (domain.Snapshot, error)
	RevealNextChoice(ctx context.Context, gameID string) (domain.Snapshot, error)
	TimeUp(ctx context.Context, gameID string) (domain.Snapshot, error)
	AdvanceQuestion(ctx context.Context, gameID string) (domain.Snapshot, error)
	SubmitAnswer(ctx context.Context, gameID, participantID, questionID, choiceID string) (domain.AnswerResult, error)
	Snapshot(ctx context.Context, gameID string) (domain.Snapshot, error)
	Leaderboard(ctx context.Context, gameID string) (domain.Leaderboard, error)
	Subscribe(ctx context.Context, gameID string) (<-chan domain.Event, func(), domain.Snapshot, error)
}

type WSHandler struct {
	service  GameService
	upgrader websocket.Upgrader
	resync   time.Duration
}

// WSOption tunes a WSHandler.
type WSOption func(*WSHandler)

// WithResyncPeriod sets how long a connection may go without events before
// it checks for a newer snapshot.
func WithResyncPeriod(d time.Duration) WSOption {
	return func(h *WSHandler) {
		if d > 0 {
			h.resync = d
		}
	}
}

func NewWSHandler(service GameService, opts ...WSOption) *WSHandler {
	h := &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		resync: resyncPeriod,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	ChoiceID   string `json:"choiceId"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage {
	return outboundMessage{Type: "error", Payload: errorPayload{Code: domain.Code(err), Message: err.Error()}}
}

// session is the per-connection state: who is connected to which game and
// how far its view of the event stream has progressed.
type session struct {
	gameID        string
	participantID string
	conn          *websocket.Conn
	send          chan outboundMessage
	done          chan struct{}
	tracker       app.SnapshotTracker
}

// reply queues msg unless the connection is closing.
func (s *session) reply(msg outboundMessage) {
	select {
	case s.send <- msg:
	case <-s.done:
	}
}

// ServeHost serves the host console of a game. The host drives the game with
// start, revealChoice, timeUp and advance commands.
func (h *WSHandler) ServeHost(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("gameId")
	if gameID == "" {
		http.Error(w, "missing gameId", http.StatusBadRequest)
		return
	}
	h.serve(w, r, &session{gameID: gameID}, h.hostCommand)
}

// ServePlayer serves a participant that already joined through the REST API.
func (h *WSHandler) ServePlayer(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("gameId")
	participantID := r.URL.Query().Get("participantId")
	if gameID == "" || participantID == "" {
		http.Error(w, "missing gameId or participantId", http.StatusBadRequest)
		return
	}
	if _, err := h.service.Participant(r.Context(), gameID, participantID); err != nil {
		writeError(w, err)
		return
	}
	h.serve(w, r, &session{gameID: gameID, participantID: participantID}, h.playerCommand)
}

type commandFunc func(ctx context.Context, s *session, msg inboundMessage) (outboundMessage, bool)

func (h *WSHandler) serve(w http.ResponseWriter, r *http.Request, s *session, handle commandFunc) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	events, cancel, snapshot, err := h.service.Subscribe(ctx, s.gameID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()

	s.conn = conn
	s.send = make(chan outboundMessage, sendBuffer)
	s.done = make(chan struct{})
	s.tracker.Observe(snapshot)

	logger := log.With().Str("game_id", s.gameID).Str("participant_id", s.participantID).Logger()
	logger.Debug().Msg("ws connected")

	// every new subscriber starts from a snapshot
	s.send <- outboundMessage{Type: "snapshot", Payload: snapshot}

	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		h.writeLoop(s)
	}()

	go func() {
		defer close(eventsDone)
		h.forwardEvents(ctx, s, events)
	}()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("ws read error")
			}
			break
		}
		if out, ok := handle(ctx, s, inbound); ok {
			s.reply(out)
		}
	}

	close(s.done)
	cancel()
	<-eventsDone
	<-writerDone
	logger.Debug().Msg("ws disconnected")
}

func (h *WSHandler) writeLoop(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Str("game_id", s.gameID).Msg("ws write error")
				// unblock the reader so the connection is torn down
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = s.conn.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// forwardEvents relays the game stream. Stale and duplicate events are
// skipped; a gap is answered with a fresh snapshot. A stream that stays quiet
// for a resync period is checked against the current snapshot, which catches
// a dropped final event that no later event would expose.
func (h *WSHandler) forwardEvents(ctx context.Context, s *session, events <-chan domain.Event) {
	ticker := time.NewTicker(h.resync)
	defer ticker.Stop()
	quiet := true
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			quiet = false
			apply, err := s.tracker.Apply(evt)
			if errors.Is(err, domain.ErrBroadcastGap) {
				h.sendSnapshot(ctx, s, true)
				continue
			}
			if !apply {
				continue
			}
			s.reply(eventMessage(evt))
		case <-ticker.C:
			if !quiet {
				quiet = true
				continue
			}
			h.sendSnapshot(ctx, s, false)
		case <-s.done:
			return
		}
	}
}

// sendSnapshot fetches the current snapshot and sends it when it is newer than
// what the connection has seen, or always when force is set.
func (h *WSHandler) sendSnapshot(ctx context.Context, s *session, force bool) {
	snapshot, err := h.service.Snapshot(ctx, s.gameID)
	if err != nil {
		if force {
			s.reply(errorMessage(err))
		}
		return
	}
	if !s.tracker.Observe(snapshot) && !force {
		return
	}
	s.reply(outboundMessage{Type: "snapshot", Payload: snapshot})
}

func eventMessage(evt domain.Event) outboundMessage {
	if evt.Type == domain.EventLeaderboard {
		return outboundMessage{Type: string(evt.Type), Payload: evt.Leaderboard}
	}
	return outboundMessage{Type: string(evt.Type), Payload: evt.Snapshot}
}

func (h *WSHandler) hostCommand(ctx context.Context, s *session, msg inboundMessage) (outboundMessage, bool) {
	var err error
	switch msg.Type {
	case "start":
		_, err = h.service.StartGame(ctx, s.gameID)
	case "revealChoice":
		_, err = h.service.RevealNextChoice(ctx, s.gameID)
	case "timeUp":
		_, err = h.service.TimeUp(ctx, s.gameID)
	case "advance":
		_, err = h.service.AdvanceQuestion(ctx, s.gameID)
	case "snapshot":
		snapshot, err := h.service.Snapshot(ctx, s.gameID)
		if err != nil {
			return errorMessage(err), true
		}
		return outboundMessage{Type: "snapshot", Payload: snapshot}, true
	default:
		return outboundMessage{Type: "error", Payload: errorPayload{Code: "unsupported_message", Message: "unsupported message type"}}, true
	}
	if err != nil {
		return errorMessage(err), true
	}
	// the resulting state reaches every connection, this one included, as an event
	return outboundMessage{}, false
}

func (h *WSHandler) playerCommand(ctx context.Context, s *session, msg inboundMessage) (outboundMessage, bool) {
	switch msg.Type {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return outboundMessage{Type: "error", Payload: errorPayload{Code: "invalid_payload", Message: "invalid answer payload"}}, true
		}
		result, err := h.service.SubmitAnswer(ctx, s.gameID, s.participantID, payload.QuestionID, payload.ChoiceID)
		if err != nil {
			return errorMessage(err), true
		}
		return outboundMessage{Type: "answerResult", Payload: result}, true
	case "snapshot":
		snapshot, err := h.service.Snapshot(ctx, s.gameID)
		if err != nil {
			return errorMessage(err), true
		}
		return outboundMessage{Type: "snapshot", Payload: snapshot}, true
	default:
		return outboundMessage{Type: "error", Payload: errorPayload{Code: "unsupported_message", Message: "unsupported message type"}}, true
	}
}
