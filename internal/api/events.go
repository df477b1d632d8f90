package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/relaynode/internal/events"
)

// connectedEvent is the first message on every event stream.
type connectedEvent struct {
	Status string `json:"status" example:"connected" doc:"Subscription status"`
}

// registerSSERoutes registers the lifecycle event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time session and stream lifecycle events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"connected":      connectedEvent{},
		"session-opened": events.SessionOpenedEvent{},
		"session-closed": events.SessionClosedEvent{},
		"stream-started": events.StreamStartedEvent{},
		"stream-stopped": events.StreamStoppedEvent{},
		"stream-crashed": events.StreamCrashedEvent{},
		"stream-failed":  events.StreamFailedEvent{},
		"queue-dropped":  events.QueueDroppedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		stream := events.NewStream(32)
		events.Forward[events.SessionOpenedEvent](s.eventBus, stream)
		events.Forward[events.SessionClosedEvent](s.eventBus, stream)
		events.Forward[events.StreamStartedEvent](s.eventBus, stream)
		events.Forward[events.StreamStoppedEvent](s.eventBus, stream)
		events.Forward[events.StreamCrashedEvent](s.eventBus, stream)
		events.Forward[events.StreamFailedEvent](s.eventBus, stream)
		events.Forward[events.QueueDroppedEvent](s.eventBus, stream)
		defer s.closeStream(stream, "/api/events")

		// Flush headers so clients know the subscription is live
		if err := send.Data(connectedEvent{Status: "connected"}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-stream.C:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}

// closeStream unsubscribes an SSE client and reports events it was too slow for.
func (s *Server) closeStream(stream *events.Stream, path string) {
	stream.Close()
	if dropped := stream.Dropped(); dropped > 0 {
		s.logger.Warn("SSE client fell behind, events dropped", "path", path, "dropped", dropped)
	}
}
