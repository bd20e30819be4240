package langclient

import (
	"net/url"
	"path/filepath"
)

// Lifecycle methods. Nothing beyond these is interpreted.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodShutdown    = "shutdown"
	MethodExit        = "exit"

	MethodLogMessage  = "window/logMessage"
	MethodShowMessage = "window/showMessage"
)

// ClientInfo identifies the client in the initialize request.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// WorkspaceFolder is an LSP workspace folder.
type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// ClientCapabilities advertises what the client supports. Only window
// capabilities are sent.
type ClientCapabilities struct {
	Window *WindowClientCapabilities `json:"window,omitempty"`
}

// WindowClientCapabilities covers window/* features.
type WindowClientCapabilities struct {
	WorkDoneProgress bool `json:"workDoneProgress"`
}

// InitializeParams is the body of the initialize request.
type InitializeParams struct {
	ProcessID        int                `json:"processId"`
	ClientInfo       *ClientInfo        `json:"clientInfo,omitempty"`
	RootURI          *string            `json:"rootUri"`
	Capabilities     ClientCapabilities `json:"capabilities"`
	WorkspaceFolders []WorkspaceFolder  `json:"workspaceFolders"`
}

// ServerInfo identifies the server in the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeResult is the part of the initialize response the client reads.
type InitializeResult struct {
	ServerInfo *ServerInfo `json:"serverInfo,omitempty"`
}

// MessageType is the severity of window/logMessage and window/showMessage.
type MessageType int

// Message types.
const (
	MessageError   MessageType = 1
	MessageWarning MessageType = 2
	MessageInfo    MessageType = 3
	MessageLog     MessageType = 4
	MessageDebug   MessageType = 5
)

// MessageParams is the body of window/logMessage and window/showMessage.
type MessageParams struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// PathToURI converts an absolute filesystem path to a file:// URI.
func PathToURI(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// workspaceFolders converts root paths to workspace folders.
// It returns nil for no roots so the request carries null.
func workspaceFolders(roots []string) []WorkspaceFolder {
	if len(roots) == 0 {
		return nil
	}
	folders := make([]WorkspaceFolder, 0, len(roots))
	for _, root := range roots {
		folders = append(folders, WorkspaceFolder{URI: PathToURI(root), Name: filepath.Base(root)})
	}
	return folders
}
