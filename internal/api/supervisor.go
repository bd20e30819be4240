package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/lspvisor/internal/api/models"
	"github.com/smazurov/lspvisor/internal/events"
	"github.com/smazurov/lspvisor/internal/supervisor"
)

func (s *Server) registerServerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-server-status",
		Method:      http.MethodGet,
		Path:        "/api/server",
		Summary:     "Language Server Status",
		Description: "Get the supervisor state and the current launch",
		Tags:        []string{"server"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(context.Context, *struct{}) (*models.ServerStatusResponse, error) {
		if s.options.Supervisor == nil {
			return nil, huma.Error503ServiceUnavailable("Supervisor not available")
		}
		return &models.ServerStatusResponse{
			Body: statusToAPI(s.options.Supervisor.Status(), s.options.Language(), time.Now()),
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "restart-server",
		Method:        http.MethodPost,
		Path:          "/api/server/restart",
		Summary:       "Restart Language Server",
		Description:   "Request a full stop and start of the language server. The request is handled asynchronously; watch /api/events for progress.",
		Tags:          []string{"server"},
		Security:      withAuth(),
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{401, 503},
	}, func(context.Context, *struct{}) (*models.RestartResponse, error) {
		if s.eventBus == nil {
			return nil, huma.Error503ServiceUnavailable("Event bus not available")
		}
		s.eventBus.Publish(events.RestartRequestedEvent{
			Source:    "api",
			Timestamp: time.Now().Format(time.RFC3339),
		})
		s.logger.Info("Restart requested via API")
		return &models.RestartResponse{
			Body: models.RestartData{
				Accepted: true,
				Message:  "Restart requested",
			},
		}, nil
	})
}

func statusToAPI(st supervisor.Status, language string, now time.Time) models.ServerStatusData {
	data := models.ServerStatusData{
		State:       string(st.State),
		LaunchID:    st.LaunchID,
		Spec:        st.Spec,
		LastError:   st.LastError,
		Running:     st.Running,
		LaunchCount: st.LaunchCount,
		Deactivated: st.Deactivated,
		Language:    language,
	}
	if !st.StartedAt.IsZero() {
		startedAt := st.StartedAt
		data.StartedAt = &startedAt
		data.Uptime = now.Sub(startedAt).Truncate(time.Second).String()
	}
	return data
}
