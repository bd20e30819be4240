// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"time"

	"github.com/smazurov/lspvisor/internal/config"
)

// HealthData is the health check body.
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// VersionData describes the running build.
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build date"`
	BuildID   string `json:"build_id" example:"local" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go version used to build"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// ServerStatusData is the supervisor snapshot.
type ServerStatusData struct {
	State       string             `json:"state" example:"running" doc:"Supervisor state: idle, starting, running or stopping"`
	LaunchID    string             `json:"launch_id,omitempty" example:"4f1c2d0e-8a7b-4c61-9d3e-2b5a6f7e8c90" doc:"Current or last launch"`
	Spec        *config.LaunchSpec `json:"spec,omitempty" doc:"Resolved launch command"`
	StartedAt   *time.Time         `json:"started_at,omitempty" doc:"When the running server finished its handshake"`
	Uptime      string             `json:"uptime,omitempty" example:"1h2m3s" doc:"Time since started_at"`
	LastError   string             `json:"last_error,omitempty" example:"server.command: missing required setting" doc:"Most recent failure"`
	Running     bool               `json:"running" example:"true" doc:"Whether the server reports itself running"`
	LaunchCount int                `json:"launch_count" example:"3" doc:"Successful launches since activation"`
	Deactivated bool               `json:"deactivated" example:"false" doc:"Whether the supervisor refuses new starts"`
	Language    string             `json:"language" example:"python" doc:"Language whose documents start the server"`
}

type ServerStatusResponse struct {
	Body ServerStatusData
}

// RestartData acknowledges a restart request.
type RestartData struct {
	Accepted bool   `json:"accepted" example:"true" doc:"Whether the request was queued for the supervisor"`
	Message  string `json:"message" example:"Restart requested" doc:"Status message"`
}

type RestartResponse struct {
	Body RestartData
}

// DocumentData is one open document.
type DocumentData struct {
	URI        string    `json:"uri" example:"file:///proj/main.py" doc:"Document URI"`
	LanguageID string    `json:"language_id" example:"python" doc:"Document language"`
	OpenedAt   time.Time `json:"opened_at" doc:"When the document was opened"`
}

type DocumentListData struct {
	Documents []DocumentData `json:"documents" doc:"Open documents in opening order"`
	Count     int            `json:"count" example:"2" doc:"Number of open documents"`
}

type DocumentListResponse struct {
	Body DocumentListData
}

// OpenDocumentRequest reports a document opened by the host.
type OpenDocumentRequest struct {
	Body struct {
		URI        string `json:"uri" minLength:"1" example:"file:///proj/main.py" doc:"Document URI"`
		LanguageID string `json:"language_id" minLength:"1" example:"python" doc:"Document language"`
	}
}

type OpenDocumentData struct {
	Opened bool `json:"opened" example:"true" doc:"False when the document was already open with this language"`
}

type OpenDocumentResponse struct {
	Body OpenDocumentData
}

// CloseDocumentRequest reports a document closed by the host.
type CloseDocumentRequest struct {
	URI string `query:"uri" required:"true" example:"file:///proj/main.py" doc:"Document URI"`
}

// WorkspaceData lists the workspace roots.
type WorkspaceData struct {
	Roots []string `json:"roots" doc:"Workspace roots; the first one replaces ${workspaceFolder}"`
}

type WorkspaceResponse struct {
	Body WorkspaceData
}
