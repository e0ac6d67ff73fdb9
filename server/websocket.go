package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/brandvoice/pkg/pipeline"
)

// Message types sent over the websocket.
const (
	MessageSession  = "session"
	MessageQuery    = "query"
	MessageStream   = "stream"
	MessageResponse = "response"
	MessageError    = "error"
)

// Message is the frame exchanged on /ws. Clients send a "query" with the
// question in Content; the server answers with "stream" chunks followed by
// one "response".
type Message struct {
	Type      string      `json:"type"`
	Content   string      `json:"content"`
	IndexName string      `json:"index_name,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// session is one websocket connection. Frames are handled in order, so only
// one goroutine writes to conn.
type session struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(s.config.AllowedOrigins, origin)
		},
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	sess := &session{
		id:     id,
		conn:   conn,
		logger: s.logger.With(zap.String("session", id)),
	}
	sess.logger.Info("websocket connected")
	sess.send(Message{Type: MessageSession, Content: sess.id})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.logger.Warn("websocket read failed", zap.Error(err))
			}
			break
		}
		s.handleMessage(r.Context(), sess, msg)
	}

	sess.logger.Info("websocket disconnected")
}

func (s *Server) handleMessage(ctx context.Context, sess *session, msg Message) {
	if msg.Type != "" && msg.Type != MessageQuery {
		sess.send(Message{Type: MessageError, Content: "unsupported message type: " + msg.Type})
		return
	}
	if strings.TrimSpace(msg.IndexName) == "" {
		sess.send(Message{Type: MessageError, Content: "index_name is required"})
		return
	}

	answer, err := s.service.QueryStream(ctx, msg.IndexName, msg.Content, func(chunk string) error {
		return sess.conn.WriteJSON(Message{Type: MessageStream, Content: chunk})
	})
	if err != nil {
		detail := err.Error()
		if pipeline.KindOf(err) == pipeline.KindInternal {
			sess.logger.Error("streaming query failed", zap.Error(err))
			detail = "Internal server error"
		}
		sess.send(Message{Type: MessageError, Content: detail})
		return
	}

	sess.send(Message{
		Type:      MessageResponse,
		Content:   answer.Answer,
		IndexName: msg.IndexName,
		Data:      queryResponse{Question: answer.Question, Answer: answer.Answer},
	})
}

func (sess *session) send(msg Message) {
	if err := sess.conn.WriteJSON(msg); err != nil {
		sess.logger.Warn("websocket write failed", zap.String("type", msg.Type), zap.Error(err))
	}
}

// originAllowed matches origin against patterns that may hold a single "*"
// wildcard, as go-chi/cors does.
func originAllowed(patterns []string, origin string) bool {
	origin = strings.ToLower(origin)
	for _, p := range patterns {
		p = strings.ToLower(p)
		if p == "*" || p == origin {
			return true
		}
		if i := strings.IndexByte(p, '*'); i >= 0 {
			prefix, suffix := p[:i], p[i+1:]
			if len(origin) >= len(prefix)+len(suffix) &&
				strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
				return true
			}
		}
	}
	return false
}
