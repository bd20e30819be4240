package events

// Event type constants for kelindar/event.
const (
	TypeRestartRequested uint32 = iota + 1
	TypeConfigChanged
	TypeDocumentOpened
	TypeServerStateChanged
	TypeOperatorNotification
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// RestartRequestedEvent is the operator's explicit restart command.
type RestartRequestedEvent struct {
	Source    string `json:"source" example:"api" doc:"Where the request came from"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Request timestamp"`
}

// Type returns the event type identifier for RestartRequestedEvent.
func (e RestartRequestedEvent) Type() uint32 { return TypeRestartRequested }

// ConfigChangedEvent is published once per changed configuration section
// after a reload.
type ConfigChangedEvent struct {
	Section   string `json:"section" example:"server" doc:"Changed section: server, workspace or logging"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Reload timestamp"`
}

// Type returns the event type identifier for ConfigChangedEvent.
func (e ConfigChangedEvent) Type() uint32 { return TypeConfigChanged }

// DocumentOpenedEvent is published when a document is opened or its
// language changes.
type DocumentOpenedEvent struct {
	URI        string `json:"uri" example:"file:///proj/main.py" doc:"Document URI"`
	LanguageID string `json:"language_id" example:"python" doc:"Document language"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Open timestamp"`
}

// Type returns the event type identifier for DocumentOpenedEvent.
func (e DocumentOpenedEvent) Type() uint32 { return TypeDocumentOpened }

// ServerStateChangedEvent reports a supervisor state transition.
type ServerStateChangedEvent struct {
	LaunchID  string `json:"launch_id,omitempty" example:"4f1c2d0e-8a7b-4c61-9d3e-2b5a6f7e8c90" doc:"Launch the transition belongs to"`
	OldState  string `json:"old_state" example:"starting" doc:"Previous state"`
	NewState  string `json:"new_state" example:"running" doc:"New state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Transition timestamp"`
}

// Type returns the event type identifier for ServerStateChangedEvent.
func (e ServerStateChangedEvent) Type() uint32 { return TypeServerStateChanged }

// OperatorNotificationEvent is a message meant for a human: launch or
// shutdown failures, configuration problems, server-reported errors.
type OperatorNotificationEvent struct {
	Level     string `json:"level" example:"error" doc:"Severity: info, warning or error"`
	Message   string `json:"message" example:"Failed to start language server" doc:"Human-readable message"`
	Error     string `json:"error,omitempty" example:"server.command: missing required setting" doc:"Underlying error"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Notification timestamp"`
}

// Type returns the event type identifier for OperatorNotificationEvent.
func (e OperatorNotificationEvent) Type() uint32 { return TypeOperatorNotification }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"supervisor" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
