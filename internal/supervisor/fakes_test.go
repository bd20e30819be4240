package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/smazurov/lspvisor/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder keeps the order of handle calls across all handles and the
// largest number of handles alive at once.
type recorder struct {
	mu      sync.Mutex
	events  []string
	live    int
	maxLive int
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) acquire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live++
	r.maxLive = max(r.maxLive, r.live)
}

func (r *recorder) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live--
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) peak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxLive
}

type fakeHandle struct {
	n   int
	rec *recorder

	startGate chan struct{}
	stopGate  chan struct{}
	startErr  error
	stopErr   error

	startCtxErr error
	running     atomic.Bool
	starts      atomic.Int32
	stops       atomic.Int32
	disposes    atomic.Int32
	exited      chan struct{}
	exitOnce    sync.Once
}

func (h *fakeHandle) Start(ctx context.Context) error {
	h.starts.Add(1)
	h.rec.add(fmt.Sprintf("start:%d", h.n))
	if h.startGate != nil {
		<-h.startGate
	}
	h.startCtxErr = ctx.Err()
	if h.startErr != nil {
		return h.startErr
	}
	h.running.Store(true)
	h.rec.add(fmt.Sprintf("started:%d", h.n))
	return nil
}

func (h *fakeHandle) Stop(context.Context) error {
	h.stops.Add(1)
	h.rec.add(fmt.Sprintf("stop:%d", h.n))
	if h.stopGate != nil {
		<-h.stopGate
	}
	h.running.Store(false)
	h.exit()
	return h.stopErr
}

func (h *fakeHandle) Dispose() {
	if h.disposes.Add(1) == 1 {
		h.rec.release()
	}
	h.running.Store(false)
	h.exit()
	h.rec.add(fmt.Sprintf("dispose:%d", h.n))
}

func (h *fakeHandle) IsRunning() bool { return h.running.Load() }

func (h *fakeHandle) Exited() <-chan struct{} { return h.exited }

// crash simulates the process dying on its own.
func (h *fakeHandle) crash() {
	h.running.Store(false)
	h.exit()
}

func (h *fakeHandle) exit() {
	h.exitOnce.Do(func() { close(h.exited) })
}

// factory hands out fakeHandles; configure runs on each before it is
// returned to the supervisor.
type factory struct {
	rec       *recorder
	configure func(*fakeHandle)

	mu      sync.Mutex
	handles []*fakeHandle
	ids     []string
}

func newFactory() *factory {
	return &factory{rec: &recorder{}}
}

func (f *factory) NewHandle(_ config.LaunchSpec, launchID string) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeHandle{
		n:      len(f.handles) + 1,
		rec:    f.rec,
		exited: make(chan struct{}),
	}
	if f.configure != nil {
		f.configure(h)
	}
	f.handles = append(f.handles, h)
	f.ids = append(f.ids, launchID)
	f.rec.acquire()
	return h
}

func (f *factory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func (f *factory) handle(i int) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[i]
}

type notifications struct {
	mu   sync.Mutex
	list []Notification
}

func (n *notifications) Notify(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, note)
}

func (n *notifications) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.list...)
}

type transitionLog struct {
	mu    sync.Mutex
	steps [][2]State
}

func (l *transitionLog) record(_ string, from, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, [2]State{from, to})
}

func (l *transitionLog) all() [][2]State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][2]State(nil), l.steps...)
}

func validSpec() (config.LaunchSpec, error) {
	return config.LaunchSpec{Command: "python3", Args: []string{"server.py"}, Dir: "/proj/server"}, nil
}

var errBoom = errors.New("boom")
