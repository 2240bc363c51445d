package stream

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const eventBufferSize = 1000

// session writes events to one websocket connection.
type session struct {
	logger       *zap.Logger
	conn         *websocket.Conn
	eventCh      chan []byte
	pingInterval time.Duration
}

func newSession(logger *zap.Logger, conn *websocket.Conn) *session {
	return &session{
		logger:       logger,
		conn:         conn,
		eventCh:      make(chan []byte, eventBufferSize),
		pingInterval: 5 * time.Second,
	}
}

// run is the only writer on the connection. It closes the connection when the
// context ends or a write fails.
func (s *session) run(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			s.conn.Close()
			return
		case data := <-s.eventCh:
			err = s.conn.WriteMessage(websocket.TextMessage, data)
		case <-ticker.C:
			err = s.conn.WriteMessage(websocket.PingMessage, []byte{})
		}
		if err != nil {
			s.logger.Error("websocket session failed", zap.Error(err))
			s.conn.Close()
			return
		}
	}
}

func (s *session) sendEvent(data []byte) {
	select {
	case s.eventCh <- data:
	default:
		s.logger.Warn("event channel is full, dropping event")
	}
}
