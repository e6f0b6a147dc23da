package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/metamart/marketplace/internal/domain/market"
	"github.com/metamart/marketplace/internal/observability"
)

const eventWriteTimeout = 5 * time.Second

type eventEnvelope struct {
	Type      string         `json:"type"`
	EmittedAt int64          `json:"emittedAt"`
	Payload   map[string]any `json:"payload"`
}

// serveEventFeed streams lifecycle events over a websocket. The optional
// "types" query parameter restricts the subscription to a comma-separated
// list of event types.
func (s *httpServer) serveEventFeed(w http.ResponseWriter, r *http.Request) {
	var types []market.EventType
	if raw := strings.TrimSpace(r.URL.Query().Get("types")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				types = append(types, market.EventType(trimmed))
			}
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		observability.Log().Debug("event feed accept failed",
			observability.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	subID, events, err := s.bus.Subscribe(r.Context(), types...)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}
	defer s.bus.Unsubscribe(subID)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				observability.Log().Debug("event feed write failed",
					observability.Field{Key: "subscription", Value: string(subID)},
					observability.Field{Key: "error", Value: err.Error()})
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt market.Event) error {
	body, err := json.Marshal(eventEnvelope{
		Type:      string(evt.Type),
		EmittedAt: evt.EmittedAt.Unix(),
		Payload:   evt.Payload(),
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, body)
}
