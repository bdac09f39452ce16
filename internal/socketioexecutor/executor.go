// Package socketioexecutor forwards deployments to a remote deploy agent over
// socket.io.
//
// Each request is emitted as a `deploy` event carrying a fresh request id.
// The agent answers with `deployed` or `deploy_failed` carrying the same id.
package socketioexecutor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/deploygrid/internal/ctxlog"
	"github.com/specialistvlad/deploygrid/internal/pipeline"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Event names of the deploy protocol.
const (
	EventDeploy       = "deploy"
	EventDeployed     = "deployed"
	EventDeployFailed = "deploy_failed"
)

const (
	defaultConnectTimeout = 15 * time.Second
	defaultRequestTimeout = 5 * time.Minute
)

var (
	// ErrTimeout is returned when the agent does not answer in time.
	ErrTimeout = errors.New("timed out waiting for deploy agent")
	// ErrRejected wraps the reason an agent reports in deploy_failed.
	ErrRejected = errors.New("deploy agent rejected request")
	// ErrClosed is returned by Deploy after Close.
	ErrClosed = errors.New("socket.io executor closed")
)

// Config configures the connection to a deploy agent.
type Config struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
	RequestTimeout     time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("socketio executor: url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("socketio executor: failed to parse URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("socketio executor: url %q needs a scheme and host", c.URL)
	}
	if c.ConnectTimeout < 0 || c.RequestTimeout < 0 {
		return errors.New("socketio executor: timeouts must not be negative")
	}
	return nil
}

// emitFunc sends one event to the agent.
type emitFunc func(event string, args ...any)

// Executor implements pipeline.Executor over a socket.io connection.
type Executor struct {
	emit    emitFunc
	close   func()
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan reply
	closed  bool
}

var _ pipeline.Executor = (*Executor)(nil)

// Dial connects to the deploy agent and waits for the connection to be
// established.
func Dial(ctx context.Context, cfg Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := ctxlog.FromContext(ctx).With("executor", "socketio", "url", cfg.URL)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	e := newExecutor(
		func(event string, args ...any) { io.Emit(event, args...) },
		func() { io.Disconnect() },
		cfg.RequestTimeout,
	)

	io.On(types.EventName(EventDeployed), func(data ...any) { e.handle(ctx, EventDeployed, data) })
	io.On(types.EventName(EventDeployFailed), func(data ...any) { e.handle(ctx, EventDeployFailed, data) })

	connected := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to deploy agent.", "sid", io.Id())
		connected <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		connected <- firstError(errs)
	})

	logger.Debug("Connecting to deploy agent.")
	io.Connect()

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = defaultConnectTimeout
	}
	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return e, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}
}

func newExecutor(emit emitFunc, closeFn func(), timeout time.Duration) *Executor {
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	return &Executor{
		emit:    emit,
		close:   closeFn,
		timeout: timeout,
		pending: make(map[string]chan reply),
	}
}

// Deploy implements pipeline.Executor.
func (e *Executor) Deploy(ctx context.Context, req pipeline.Request) (string, error) {
	id := uuid.NewString()
	logger := ctxlog.FromContext(ctx).With("step", req.Step, "request_id", id)

	payload, err := encodeRequest(id, req)
	if err != nil {
		return "", err
	}

	ch := make(chan reply, 1)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClosed
	}
	e.pending[id] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}()

	logger.Debug("Emitting deploy request.", "artifact", req.Artifact)
	e.emit(EventDeploy, payload)

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("%s: %w", req.Step, r.err)
		}
		logger.Debug("Deploy agent answered.", "address", r.address)
		return r.address, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", fmt.Errorf("%s: %w after %s", req.Step, ErrTimeout, e.timeout)
	}
}

// handle routes an agent answer to the waiting request.
func (e *Executor) handle(ctx context.Context, event string, data []any) {
	logger := ctxlog.FromContext(ctx)
	id, r, err := parseReply(event, data)
	if err != nil {
		logger.Warn("Ignoring malformed deploy agent answer.", "event", event, "error", err)
		return
	}

	e.mu.Lock()
	ch, ok := e.pending[id]
	e.mu.Unlock()
	if !ok {
		logger.Debug("Ignoring answer for unknown request.", "event", event, "request_id", id)
		return
	}
	select {
	case ch <- r:
	default:
	}
}

// Close disconnects from the agent. Outstanding requests time out.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	if e.close != nil {
		e.close()
	}
	return nil
}

func firstError(args []any) error {
	if len(args) > 0 {
		if err, ok := args[0].(error); ok {
			return err
		}
		return fmt.Errorf("connect_error: %v", args[0])
	}
	return errors.New("connect_error")
}
