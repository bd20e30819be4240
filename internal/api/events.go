package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/lspvisor/internal/events"
)

// registerSSERoutes registers the status event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time supervisor state changes, operator notifications, opened documents and config reloads",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"server-state-changed":  events.ServerStateChangedEvent{},
		"operator-notification": events.OperatorNotificationEvent{},
		"document-opened":       events.DocumentOpenedEvent{},
		"config-changed":        events.ConfigChangedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		if s.eventBus == nil {
			return
		}
		eventCh := make(chan any, 10)
		unsubscribe := events.SubscribeStatus(s.eventBus, eventCh)
		defer unsubscribe()

		// The current state first, so a client never has to poll.
		if s.options.Supervisor != nil {
			st := s.options.Supervisor.Status()
			if err := send.Data(events.ServerStateChangedEvent{
				LaunchID:  st.LaunchID,
				OldState:  string(st.State),
				NewState:  string(st.State),
				Timestamp: time.Now().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
