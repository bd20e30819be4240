package langclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/smazurov/lspvisor/internal/logging"
	"github.com/tidwall/gjson"
)

// Transport speaks JSON-RPC 2.0 with LSP Content-Length framing over a pair
// of streams. Either side of the protocol can use it.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer
	logger logging.Logger

	writeMu sync.Mutex

	mu            sync.Mutex
	nextID        atomic.Int64
	pending       map[int64]chan *Response
	notifications map[string]NotificationHandler
	requests      map[string]RequestHandler

	closed   atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
	err      error // why done was closed
}

// NotificationHandler handles an incoming notification. It runs on the read
// loop and must not block.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler answers an incoming request. A returned *RPCError is sent
// as-is; any other error becomes an internal error.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Response is a JSON-RPC response to one of our requests.
type Response struct {
	ID     int64
	Result json.RawMessage
	Error  *RPCError
}

type requestMessage struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type notificationMessage struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// resultMessage always carries "result", null included.
type resultMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

type errorMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *RPCError       `json:"error"`
}

// NewTransport creates a transport reading from r and writing to w. Close
// closes c when non-nil.
func NewTransport(r io.Reader, w io.Writer, c io.Closer, logger logging.Logger) *Transport {
	return &Transport{
		reader:        bufio.NewReaderSize(r, 64*1024),
		writer:        w,
		closer:        c,
		logger:        logger,
		pending:       make(map[int64]chan *Response),
		notifications: make(map[string]NotificationHandler),
		requests:      make(map[string]RequestHandler),
		done:          make(chan struct{}),
	}
}

// Start begins reading messages in a new goroutine.
func (t *Transport) Start() {
	go t.readLoop()
}

// Done is closed when the transport stops, either through Close, Fail, or
// the peer closing its end.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err reports why the transport stopped. Nil while it is running.
func (t *Transport) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Fail stops the transport with err without closing the underlying streams.
// Pending and future calls return err.
func (t *Transport) Fail(err error) {
	t.doneOnce.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Close stops the transport and closes the underlying closer.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.Fail(ErrClosed)
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// Call sends a request and waits for its response. result may be nil.
func (t *Transport) Call(ctx context.Context, method string, params, result any) error {
	if err := t.Err(); err != nil {
		return err
	}

	id := t.nextID.Add(1)
	ch := make(chan *Response, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.send(requestMessage{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.err
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 && string(resp.Result) != "null" {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal %s result: %w", method, err)
			}
		}
		return nil
	}
}

// Notify sends a notification.
func (t *Transport) Notify(method string, params any) error {
	if err := t.Err(); err != nil {
		return err
	}
	return t.send(notificationMessage{JSONRPC: "2.0", Method: method, Params: params})
}

// OnNotification registers a handler for a notification method. The method
// "*" catches everything without a specific handler.
func (t *Transport) OnNotification(method string, handler NotificationHandler) {
	t.mu.Lock()
	t.notifications[method] = handler
	t.mu.Unlock()
}

// OnRequest registers a handler for a request method. Requests without a
// handler are answered with MethodNotFound.
func (t *Transport) OnRequest(method string, handler RequestHandler) {
	t.mu.Lock()
	t.requests[method] = handler
	t.mu.Unlock()
}

// send writes a message with its Content-Length header.
func (t *Transport) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := fmt.Fprintf(t.writer, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

func (t *Transport) readLoop() {
	for {
		msg, err := t.readMessage()
		if err != nil {
			if t.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				t.Fail(ErrServerExited)
				return
			}
			t.logger.Warn("Failed to read message", "error", err)
			t.Fail(fmt.Errorf("read message: %w", err))
			return
		}
		t.dispatch(msg)
	}
}

// readMessage reads a single framed message.
func (t *Transport) readMessage() ([]byte, error) {
	contentLength := -1
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if contentLength < 0 {
				continue // stray blank line between messages
			}
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid Content-Length %q", value)
		}
		contentLength = n
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// dispatch classifies a message by the members it carries.
func (t *Transport) dispatch(data []byte) {
	if !gjson.ValidBytes(data) {
		t.logger.Warn("Dropping invalid JSON-RPC message", "bytes", len(data))
		return
	}

	fields := gjson.GetManyBytes(data, "id", "method", "params", "result", "error")
	id, method, params, result, rpcErr := fields[0], fields[1], fields[2], fields[3], fields[4]

	switch {
	case method.Exists() && id.Exists():
		go t.handleRequest(json.RawMessage(id.Raw), method.String(), rawOrNil(params))
	case method.Exists():
		t.handleNotification(method.String(), rawOrNil(params))
	case id.Exists() && (result.Exists() || rpcErr.Exists()):
		resp := &Response{ID: id.Int(), Result: rawOrNil(result)}
		if rpcErr.Exists() {
			resp.Error = &RPCError{}
			if err := json.Unmarshal([]byte(rpcErr.Raw), resp.Error); err != nil {
				resp.Error = &RPCError{Code: CodeInternalError, Message: rpcErr.Raw}
			}
		}
		t.handleResponse(resp)
	default:
		t.logger.Debug("Ignoring unclassifiable message", "message", string(data))
	}
}

func rawOrNil(r gjson.Result) json.RawMessage {
	if !r.Exists() {
		return nil
	}
	return json.RawMessage(r.Raw)
}

func (t *Transport) handleResponse(resp *Response) {
	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("Response for unknown request", "id", resp.ID)
		return
	}
	ch <- resp // buffered, one response per id
}

func (t *Transport) handleNotification(method string, params json.RawMessage) {
	t.mu.Lock()
	handler, ok := t.notifications[method]
	if !ok {
		handler, ok = t.notifications["*"]
	}
	t.mu.Unlock()

	if ok && handler != nil {
		handler(method, params)
	}
}

func (t *Transport) handleRequest(id json.RawMessage, method string, params json.RawMessage) {
	t.mu.Lock()
	handler := t.requests[method]
	t.mu.Unlock()

	var msg any
	if handler == nil {
		t.logger.Debug("Rejecting unsupported server request", "method", method)
		msg = errorMessage{JSONRPC: "2.0", ID: id, Error: &RPCError{
			Code:    CodeMethodNotFound,
			Message: "method not supported: " + method,
		}}
	} else {
		result, err := handler(context.Background(), method, params)
		var rpcErr *RPCError
		switch {
		case errors.As(err, &rpcErr):
			msg = errorMessage{JSONRPC: "2.0", ID: id, Error: rpcErr}
		case err != nil:
			msg = errorMessage{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: CodeInternalError, Message: err.Error()}}
		default:
			msg = resultMessage{JSONRPC: "2.0", ID: id, Result: result}
		}
	}

	if err := t.send(msg); err != nil && t.Err() == nil {
		t.logger.Warn("Failed to answer server request", "method", method, "error", err)
	}
}
