// Package router turns trigger events into supervisor operations.
//
// Route is a pure table from event to Action. The Router subscribes to the
// bus and runs every routed action in its own goroutine so overlapping
// triggers reach the supervisor's guards together; the router itself never
// serializes or queues them.
package router

import (
	"context"
	"sync"

	"github.com/smazurov/lspvisor/internal/config"
	"github.com/smazurov/lspvisor/internal/events"
	"github.com/smazurov/lspvisor/internal/logging"
	"github.com/smazurov/lspvisor/internal/workspace"
)

// Action is what a trigger asks the supervisor to do.
type Action int

// Actions.
const (
	ActionNone Action = iota
	ActionStart
	ActionRestart
)

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionRestart:
		return "restart"
	default:
		return "none"
	}
}

// Route maps an event to an action. language is the configured target
// language for document events.
func Route(ev events.Event, language string) Action {
	switch e := ev.(type) {
	case events.RestartRequestedEvent:
		return ActionRestart
	case events.ConfigChangedEvent:
		if e.Section == config.SectionServer {
			return ActionRestart
		}
	case events.DocumentOpenedEvent:
		if e.LanguageID == language {
			return ActionStart
		}
	}
	return ActionNone
}

// Target is the supervisor as the router sees it.
type Target interface {
	Start(ctx context.Context)
	Restart(ctx context.Context)
}

// DocumentSource lists open documents in opening order.
type DocumentSource interface {
	Documents() []workspace.Document
}

// Options configures a Router.
type Options struct {
	Bus    *events.Bus
	Target Target
	// Language returns the configured target language; it is read on every
	// document event so a config reload takes effect immediately.
	Language func() string
	Logger   logging.Logger
}

// Router subscribes to trigger events and dispatches routed actions.
type Router struct {
	opts   Options
	logger logging.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// mu covers only the subscription list, closed and wg.Add.
	mu     sync.Mutex
	unsubs []func()
	closed bool
	wg     sync.WaitGroup
}

// New creates a router. Nothing is subscribed until Activate.
func New(opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("router")
	}
	if opts.Language == nil {
		opts.Language = func() string { return config.DefaultLanguage }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		opts:   opts,
		logger: opts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Activate subscribes to the bus, then scans docs and starts the server if
// an open document already matches the target language. The scan stops at
// the first match.
func (r *Router) Activate(docs DocumentSource) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.opts.Bus != nil {
		r.unsubs = append(r.unsubs,
			r.opts.Bus.Subscribe(func(e events.RestartRequestedEvent) { r.Handle(e) }),
			r.opts.Bus.Subscribe(func(e events.ConfigChangedEvent) { r.Handle(e) }),
			r.opts.Bus.Subscribe(func(e events.DocumentOpenedEvent) { r.Handle(e) }),
		)
	}
	r.mu.Unlock()

	if docs == nil {
		return
	}
	language := r.opts.Language()
	for _, d := range docs.Documents() {
		if d.LanguageID == language {
			r.logger.Info("Open document matches, starting server", "uri", d.URI, "language", language)
			r.dispatch(ActionStart, "initial scan")
			return
		}
	}
	r.logger.Debug("No open document matches", "language", language)
}

// Handle routes ev and dispatches the resulting action.
func (r *Router) Handle(ev events.Event) {
	action := Route(ev, r.opts.Language())
	if action == ActionNone {
		return
	}
	r.dispatch(action, eventName(ev))
}

// Close unsubscribes and waits for in-flight dispatches. Waiting inside a
// dispatch is cut short; handle operations already begun run to the end.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	r.cancel()
	r.wg.Wait()
}

func (r *Router) dispatch(action Action, reason string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Debug("Dispatching", "action", action, "trigger", reason)
	go func() {
		defer r.wg.Done()
		switch action {
		case ActionStart:
			r.opts.Target.Start(r.ctx)
		case ActionRestart:
			r.opts.Target.Restart(r.ctx)
		}
	}()
}

func eventName(ev events.Event) string {
	switch e := ev.(type) {
	case events.RestartRequestedEvent:
		return "restart requested by " + e.Source
	case events.ConfigChangedEvent:
		return "config section " + e.Section + " changed"
	case events.DocumentOpenedEvent:
		return "document opened: " + e.URI
	default:
		return "event"
	}
}
