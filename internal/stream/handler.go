package stream

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/adauction/internal/notify"
)

var (
	upgrader = websocket.Upgrader{
		// the display layer is served from a different origin
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_websocket_connections",
		Help: "Open websocket notification sessions",
	})
)

// Source is where sessions get their events from.
type Source interface {
	Subscribe(fn notify.DeliveryFn) notify.CancelFn
}

// Handler upgrades the request to a websocket and streams ledger events until
// the client goes away.
func Handler(logger *zap.Logger, source Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("failed to upgrade HTTP connection to websocket protocol",
				zap.Error(err),
				zap.String("remoteAddr", r.RemoteAddr))
			return
		}
		defer conn.Close()

		connections.Inc()
		defer connections.Dec()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		s := newSession(logger.With(zap.String("session", uuid.NewString())), conn)
		unsubscribe := source.Subscribe(s.sendEvent)
		defer unsubscribe()

		go s.run(ctx, cancel)

		// clients do not send anything; reading detects the close frame
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					s.logger.Debug("websocket read failed", zap.Error(err))
				}
				return
			}
		}
	}
}
