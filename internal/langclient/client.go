package langclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/lspvisor/internal/config"
	"github.com/smazurov/lspvisor/internal/logging"
	"github.com/smazurov/lspvisor/internal/process"
)

// Default timeouts.
const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultShutdownTimeout  = 5 * time.Second
	disposeWait             = 2 * time.Second
)

// Options configures a Client.
type Options struct {
	// Logger receives lifecycle messages. Required.
	Logger logging.Logger
	// ServerLogger receives the server's stderr and window/logMessage.
	// Defaults to Logger.
	ServerLogger logging.Logger
	// LogParser classifies stderr lines.
	LogParser process.LogParser
	// OnShowMessage is called for window/showMessage. Optional.
	OnShowMessage func(MessageType, string)

	WorkspaceFolders []string
	Env              []string
	ClientInfo       ClientInfo

	HandshakeTimeout time.Duration
	ShutdownTimeout  time.Duration
}

// Client is one language-server instance: a child process plus the
// JSON-RPC connection over its stdio. A Client is started at most once.
type Client struct {
	spec config.LaunchSpec
	opts Options

	mu        sync.Mutex
	started   bool
	disposed  bool
	proc      *process.Process
	transport *Transport
	info      *ServerInfo

	running     atomic.Bool
	exited      chan struct{}
	disposeOnce sync.Once
}

// New creates a client for spec. Nothing is spawned until Start.
func New(spec config.LaunchSpec, opts Options) *Client {
	if opts.ServerLogger == nil {
		opts.ServerLogger = opts.Logger
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.ClientInfo.Name == "" {
		opts.ClientInfo.Name = logging.Identifier
	}
	return &Client{
		spec:   spec,
		opts:   opts,
		exited: make(chan struct{}),
	}
}

// Start spawns the server and performs the initialize handshake. On error
// the caller should Dispose the client to reap anything half-started.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.disposed:
		c.mu.Unlock()
		return ErrDisposed
	case c.started:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true

	proc, err := process.Start(process.Spec{
		Command: c.spec.Command,
		Args:    c.spec.Args,
		Dir:     c.spec.Dir,
		Env:     c.opts.Env,
	}, process.Options{
		Logger:       c.opts.Logger,
		OutputLogger: c.opts.ServerLogger,
		LogParser:    c.opts.LogParser,
	})
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("spawn %s: %w", c.spec.Command, err)
	}

	transport := NewTransport(proc.Stdout, proc.Stdin, nil, c.opts.Logger)
	c.registerHandlers(transport)
	c.proc = proc
	c.transport = transport
	c.mu.Unlock()

	transport.Start()
	go c.watchExit(proc, transport)

	hctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	params := InitializeParams{
		ProcessID:        os.Getpid(),
		ClientInfo:       &c.opts.ClientInfo,
		Capabilities:     ClientCapabilities{Window: &WindowClientCapabilities{}},
		WorkspaceFolders: workspaceFolders(c.opts.WorkspaceFolders),
	}
	if len(params.WorkspaceFolders) > 0 {
		params.RootURI = &params.WorkspaceFolders[0].URI
	}

	var result InitializeResult
	if err := transport.Call(hctx, MethodInitialize, params, &result); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = ErrHandshakeTimeout
		}
		return fmt.Errorf("initialize: %w", err)
	}
	if err := transport.Notify(MethodInitialized, struct{}{}); err != nil {
		return fmt.Errorf("initialized: %w", err)
	}

	c.mu.Lock()
	c.info = result.ServerInfo
	c.mu.Unlock()

	// The process may have died between the response and now.
	select {
	case <-c.exited:
		return fmt.Errorf("initialize: %w", ErrServerExited)
	default:
	}
	c.running.Store(true)

	if result.ServerInfo != nil {
		c.opts.Logger.Info("Language server initialized", "server", result.ServerInfo.Name, "server_version", result.ServerInfo.Version, "pid", proc.PID())
	} else {
		c.opts.Logger.Info("Language server initialized", "pid", proc.PID())
	}
	return nil
}

// Stop asks the server to shut down and exit, then waits for the process to
// go away. It returns ErrShutdownTimeout if the process is still alive after
// the shutdown timeout. Stop never kills; Dispose does.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	proc, transport := c.proc, c.transport
	c.mu.Unlock()
	if proc == nil {
		return ErrNotStarted
	}
	c.running.Store(false)

	sctx, cancel := context.WithTimeout(ctx, c.opts.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := transport.Call(sctx, MethodShutdown, nil, nil); err != nil && !errors.Is(err, ErrServerExited) {
		shutdownErr = fmt.Errorf("shutdown request: %w", err)
	}
	if err := transport.Notify(MethodExit, nil); err != nil && !errors.Is(err, ErrServerExited) {
		c.opts.Logger.Debug("Failed to send exit notification", "error", err)
	}

	select {
	case <-proc.Done():
		return shutdownErr
	case <-sctx.Done():
		return errors.Join(shutdownErr, ErrShutdownTimeout)
	}
}

// Dispose releases the process and connection: it closes the transport,
// kills the process group and waits briefly for the process to be reaped.
// Idempotent; safe before Start and after a failed Start.
func (c *Client) Dispose() {
	c.disposeOnce.Do(func() {
		c.mu.Lock()
		c.disposed = true
		proc, transport := c.proc, c.transport
		c.mu.Unlock()

		c.running.Store(false)
		if transport != nil {
			_ = transport.Close()
		}
		if proc == nil {
			return
		}
		proc.Kill()
		select {
		case <-proc.Done():
		case <-time.After(disposeWait):
			c.opts.Logger.Warn("Language server not reaped after kill", "pid", proc.PID())
		}
		_ = proc.Close()
	})
}

// IsRunning reports whether the handshake completed and neither Stop nor
// process exit has happened since.
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// Exited is closed when the server process exits.
func (c *Client) Exited() <-chan struct{} {
	return c.exited
}

// PID returns the server's process id, or 0 before Start.
func (c *Client) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == nil {
		return 0
	}
	return c.proc.PID()
}

// ServerInfo returns what the server reported in its initialize result.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

func (c *Client) watchExit(proc *process.Process, transport *Transport) {
	<-proc.Done()
	c.running.Store(false)
	transport.Fail(ErrServerExited)
	close(c.exited)
}

func (c *Client) registerHandlers(t *Transport) {
	t.OnNotification(MethodLogMessage, func(_ string, params json.RawMessage) {
		var msg MessageParams
		if err := json.Unmarshal(params, &msg); err != nil {
			return
		}
		logMessage(c.opts.ServerLogger, msg)
	})

	t.OnNotification(MethodShowMessage, func(_ string, params json.RawMessage) {
		var msg MessageParams
		if err := json.Unmarshal(params, &msg); err != nil {
			return
		}
		logMessage(c.opts.ServerLogger, msg)
		if c.opts.OnShowMessage != nil {
			c.opts.OnShowMessage(msg.Type, msg.Message)
		}
	})

	t.OnNotification("*", func(method string, _ json.RawMessage) {
		c.opts.Logger.Debug("Ignoring server notification", "method", method)
	})

	// Some servers block until these are acknowledged.
	accept := func(context.Context, string, json.RawMessage) (any, error) { return nil, nil }
	t.OnRequest("client/registerCapability", accept)
	t.OnRequest("client/unregisterCapability", accept)
	t.OnRequest("window/workDoneProgress/create", accept)
}

func logMessage(logger logging.Logger, msg MessageParams) {
	switch msg.Type {
	case MessageError:
		logger.Error(msg.Message)
	case MessageWarning:
		logger.Warn(msg.Message)
	case MessageInfo:
		logger.Info(msg.Message)
	default:
		logger.Debug(msg.Message)
	}
}
