// internal/httpserver/live.go
//
// Transport for the session protocol.
//   - GET /live upgrades to a websocket. Inbound events on one connection
//     are read and handled strictly in order; each yields one message.
//   - POST /live handles a single event and returns its message.
//
// A rejected event does not close the connection; the client receives
// {"type":"error","error":code} and may continue (e.g. after a reload).

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/realeffort/internal/session"
	"github.com/robalobadob/realeffort/internal/task"
)

const (
	maxEventBytes = 4096
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	eventTimeout  = 10 * time.Second
)

// errorMessage is the outbound shape for rejected events.
type errorMessage struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// classify maps a Handle error to an HTTP status and a client-facing code.
func classify(err error) (int, errorMessage) {
	var pe *session.ProtocolError
	switch {
	case errors.As(err, &pe):
		return http.StatusConflict, errorMessage{Type: "error", Error: string(pe.Code), Message: pe.Message}
	case errors.Is(err, session.ErrInvalidAnswer):
		return http.StatusBadRequest, errorMessage{Type: "error", Error: "invalid_answer", Message: err.Error()}
	case errors.Is(err, session.ErrPlayerNotFound):
		return http.StatusNotFound, errorMessage{Type: "error", Error: "not_found"}
	case errors.Is(err, task.ErrTimeout):
		return http.StatusServiceUnavailable, errorMessage{Type: "error", Error: "task_timeout"}
	default:
		return http.StatusInternalServerError, errorMessage{Type: "error", Error: "internal"}
	}
}

// dispatch runs one event through the protocol and logs the outcome.
func (s *Server) dispatch(ctx context.Context, id string, ev session.Event) (session.Reply, error) {
	reply, err := s.proto.Handle(ctx, id, ev)
	l := log.With().Str("player", id).Str("event", string(ev.Type)).Logger()
	switch {
	case err == nil:
		l.Debug().Str("response", string(reply.Message.Type)).Msg("event handled")
	case session.IsProtocolError(err), errors.Is(err, session.ErrInvalidAnswer):
		l.Warn().Err(err).Msg("event rejected")
	default:
		l.Error().Err(err).Msg("event failed")
	}
	return reply, err
}

// handleLiveEvent processes a single event sent over plain HTTP.
func (s *Server) handleLiveEvent(w http.ResponseWriter, r *http.Request) {
	var ev session.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	reply, err := s.dispatch(r.Context(), playerID(r), ev)
	if err != nil {
		status, msg := classify(err)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(msg)
		return
	}
	_ = json.NewEncoder(w).Encode(reply.Message)
}

// handleLiveSocket runs the message loop for one websocket connection.
func (s *Server) handleLiveSocket(w http.ResponseWriter, r *http.Request) {
	id := playerID(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("player", id).Msg("websocket upgrade")
		return
	}
	defer conn.Close()
	log.Info().Str("player", id).Msg("live connection opened")

	conn.SetReadLimit(maxEventBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Writes are owned by this goroutine apart from pings, which use
	// WriteControl and may run concurrently with other writes.
	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		var ev session.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("player", id).Msg("live connection read")
			}
			var (
				syntaxErr *json.SyntaxError
				typeErr   *json.UnmarshalTypeError
			)
			// ReadJSON reports a truncated document as io.ErrUnexpectedEOF.
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
				if werr := s.writeJSON(conn, errorMessage{Type: "error", Error: "bad_json"}); werr != nil {
					return
				}
				continue
			}
			log.Info().Str("player", id).Msg("live connection closed")
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		reply, err := s.dispatch(ctx, id, ev)
		cancel()

		var out any = reply.Message
		if err != nil {
			_, out = classify(err)
		}
		if err := s.writeJSON(conn, out); err != nil {
			log.Warn().Err(err).Str("player", id).Msg("live connection write")
			return
		}
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
