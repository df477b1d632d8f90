package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/relaynode/internal/api/models"
	"github.com/smazurov/relaynode/internal/metrics"
	"github.com/smazurov/relaynode/internal/relay"
)

// registerSessionRoutes registers the read-only session inspection endpoints.
func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/api/sessions",
		Summary:     "List Sessions",
		Description: "List connected relay sessions with their stream state and transcoder progress",
		Tags:        []string{"sessions"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.SessionListResponse, error) {
		var infos []relay.Info
		if s.registry != nil {
			infos = s.registry.List()
		}

		sessions := make([]models.SessionData, len(infos))
		for i, info := range infos {
			sessions[i] = sessionToAPI(info)
		}

		return &models.SessionListResponse{
			Body: models.SessionListData{
				Sessions: sessions,
				Count:    len(sessions),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{session_id}",
		Summary:     "Get Session",
		Description: "Get details of a single relay session",
		Tags:        []string{"sessions"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *struct {
		SessionID string `path:"session_id" example:"3f1c2a9e-7d7b-4c1e-9d2f-0a3b4c5d6e7f" doc:"Session identifier"`
	}) (*models.SessionResponse, error) {
		if s.registry == nil {
			return nil, huma.Error404NotFound("session not found")
		}
		session, ok := s.registry.Get(input.SessionID)
		if !ok {
			return nil, huma.Error404NotFound("session not found")
		}
		return &models.SessionResponse{Body: sessionToAPI(session.Info())}, nil
	})
}

// sessionToAPI converts a session snapshot to API session data.
func sessionToAPI(info relay.Info) models.SessionData {
	data := models.SessionData{
		SessionID:       info.ID,
		RemoteAddr:      info.RemoteAddr,
		State:           string(info.State),
		StreamID:        info.StreamID,
		Destination:     info.Destination,
		RestartAttempts: info.RestartAttempts,
		QueuedChunks:    info.QueuedChunks,
		QueuedBytes:     info.QueuedBytes,
		PID:             info.PID,
		ConnectedAt:     info.CreatedAt,
	}
	if !info.StreamStartedAt.IsZero() {
		started := info.StreamStartedAt
		data.StreamStartedAt = &started
		data.Uptime = time.Since(started)
	}
	if info.State == relay.StateActive {
		data.Transcoder = metrics.GetFFmpegMetrics(info.ID)
	}
	return data
}
