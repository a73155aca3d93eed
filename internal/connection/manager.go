package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/rickgao/hubconn/internal/backoff"
	"github.com/rickgao/hubconn/internal/model"
)

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State              State
	PendingRequests    int
	ReconnectCampaigns int64
	ReconnectAttempts  int64
	Epoch              string // identity of the current (or last) connection
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer sets the transport. A nil DialFunc means no transport is
// available and Initialize fails with a ConfigurationError.
func WithDialer(d DialFunc) Option {
	return func(m *Manager) {
		m.dial = d
	}
}

// WithClock sets the clock used for request timeouts and backoff.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// Manager owns the single platform connection: its lifecycle, the
// correlation table for in-flight requests and the event bus.
type Manager struct {
	cfg     ManagerConfig
	logger  *slog.Logger
	dial    DialFunc
	clock   clock.Clock
	events  *EventBus
	backoff *backoff.Timer

	mu            sync.Mutex
	state         State
	url           string
	gen           uint64 // bumped by Close; stale dials and read loops compare it
	runCtx        context.Context
	cancelRun     context.CancelFunc
	client        Client
	epoch         uuid.UUID
	everConnected bool
	campaign      bool
	ready         *readiness
	pending       map[string]*pendingRequest

	campaigns int64
	attempts  int64
}

// pendingRequest is an in-flight request awaiting its response.
type pendingRequest struct {
	id     string
	epoch  uuid.UUID
	result chan result
	timer  *clock.Timer
}

type result struct {
	attrs model.Attributes
	err   error
}

// readiness is settled once when a connection attempt succeeds or fails.
type readiness struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newReadiness() *readiness {
	return &readiness{done: make(chan struct{})}
}

func (r *readiness) settle(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

func (r *readiness) settled() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *readiness) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewManager creates a Connection Manager. The manager is idle until
// Initialize is called.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultManagerConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = defaults.BackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaults.BackoffMax
	}
	if cfg.MaxListeners == 0 {
		cfg.MaxListeners = defaults.MaxListeners
	}

	m := &Manager{
		cfg:     cfg,
		logger:  logger,
		dial:    DialWebsocket,
		clock:   clock.New(),
		pending: make(map[string]*pendingRequest),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.events = NewEventBus(cfg.MaxListeners, logger)
	m.backoff = backoff.New(m.reconnectAttempt,
		backoff.WithInitial(cfg.BackoffInitial),
		backoff.WithMax(cfg.BackoffMax),
		backoff.WithClock(m.clock),
	)

	return m
}

// Events returns the event bus.
func (m *Manager) Events() *EventBus {
	return m.events
}

// Subscribe registers h for key on the event bus.
func (m *Manager) Subscribe(key EventKey, h Handler) (unsubscribe func()) {
	return m.events.Subscribe(key, h)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var epoch string
	if m.epoch != uuid.Nil {
		epoch = m.epoch.String()
	}

	return ManagerStats{
		State:              m.state,
		PendingRequests:    len(m.pending),
		ReconnectCampaigns: m.campaigns,
		ReconnectAttempts:  m.attempts,
		Epoch:              epoch,
	}
}

// Initialize opens the connection to rawURL and waits until it is
// established. Calls made while an attempt is in flight share that attempt;
// calls made while connected return nil at once.
func (m *Manager) Initialize(ctx context.Context, rawURL string) error {
	if err := validateURL(rawURL); err != nil {
		return &ConfigurationError{URL: rawURL, Err: err}
	}
	if m.dial == nil {
		return &ConfigurationError{URL: rawURL, Err: ErrUnsupportedTransport}
	}

	m.mu.Lock()
	if m.state == Disconnected {
		m.url = rawURL
		m.ready = newReadiness()
		m.state = Connecting
		m.runCtx, m.cancelRun = context.WithCancel(context.Background())
		go m.connect(m.gen)
	}
	ready := m.ready
	m.mu.Unlock()

	return ready.wait(ctx)
}

// Send writes env with a fresh correlation id and waits for the matching
// response. It fails with ErrNotReady, without writing, when no connection
// is open.
func (m *Manager) Send(ctx context.Context, env model.Envelope) (model.Attributes, error) {
	m.mu.Lock()
	c := m.client
	if c == nil || m.state != Connected || !c.IsConnected() {
		m.mu.Unlock()
		return nil, ErrNotReady
	}
	ready := m.ready
	m.mu.Unlock()

	if err := ready.wait(ctx); err != nil {
		return nil, ErrNotReady
	}

	id, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("mint correlation id: %w", err)
	}
	env.Headers.CorrelationID = id.String()

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	p := &pendingRequest{
		id:     id.String(),
		result: make(chan result, 1),
	}

	m.mu.Lock()
	if m.client != c {
		m.mu.Unlock()
		return nil, ErrNotReady
	}
	p.epoch = m.epoch
	m.pending[p.id] = p
	p.timer = m.clock.AfterFunc(m.cfg.RequestTimeout, func() { m.expire(p) })
	m.mu.Unlock()

	if m.cfg.Trace {
		m.logger.Debug("frame out",
			"type", env.Type,
			"destination", env.Headers.Destination,
			"correlation_id", p.id,
		)
	}

	if err := c.Send(data); err != nil {
		m.forget(p)
		m.logger.Debug("socket write failed", "correlation_id", p.id, "error", err)
		return nil, ErrNotReady
	}

	select {
	case r := <-p.result:
		return r.attrs, r.err
	case <-ctx.Done():
		m.forget(p)
		return nil, ctx.Err()
	}
}

// Close cancels any reconnection campaign, rejects in-flight requests with
// ErrClosed and closes the socket. It is a no-op when no socket exists.
func (m *Manager) Close() error {
	m.mu.Lock()
	c := m.client
	m.gen++
	m.client = nil
	m.state = Disconnected
	m.campaign = false
	m.everConnected = false
	ready := m.ready
	cancel := m.cancelRun
	m.cancelRun = nil
	pending := m.pending
	m.pending = make(map[string]*pendingRequest)
	m.mu.Unlock()

	m.backoff.Cancel()
	if cancel != nil {
		cancel()
	}
	if ready != nil {
		ready.settle(ErrClosed)
	}
	for _, p := range pending {
		p.timer.Stop()
		p.result <- result{err: ErrClosed}
	}

	if c == nil {
		return nil
	}

	m.logger.Info("closing connection")
	err := c.Close()
	m.events.Emit(Event{
		Key:        EventClosed,
		Attributes: model.Attributes{"code": CloseNormal},
	})
	return err
}

// reconnectAttempt is the backoff callback.
func (m *Manager) reconnectAttempt() {
	m.mu.Lock()
	if m.state != Reconnecting {
		m.mu.Unlock()
		return
	}
	m.state = Connecting
	m.attempts++
	gen, target := m.gen, m.url
	m.mu.Unlock()

	m.logger.Info("attempting reconnection", "url", target, "delay", m.backoff.Delay())
	m.connect(gen)
}

// connect dials and adopts the new socket if the manager has not been
// closed in the meantime.
func (m *Manager) connect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != Connecting {
		m.mu.Unlock()
		return
	}
	ctx := m.runCtx
	cfg := m.cfg.Client
	cfg.URL = m.url
	m.mu.Unlock()

	c, err := m.dial(ctx, cfg, m.logger)
	if err != nil {
		m.logger.Warn("connection attempt failed", "url", cfg.URL, "error", err)
		m.handleClose(nil, gen, CloseAbnormal)
		return
	}

	id, err := newToken()
	if err != nil {
		m.logger.Error("failed to mint connection id", "error", err)
		c.Close()
		m.handleClose(nil, gen, CloseAbnormal)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.state != Connecting {
		m.mu.Unlock()
		c.Close()
		return
	}
	m.client = c
	m.epoch = id
	m.state = Connected
	m.everConnected = true
	m.campaign = false
	ready := m.ready
	m.mu.Unlock()

	m.backoff.Cancel()
	ready.settle(nil)

	m.logger.Info("connected", "url", cfg.URL, "epoch", id.String())
	m.events.Emit(Event{
		Key:        EventConnected,
		Attributes: model.Attributes{"epoch": id.String()},
	})

	go m.readLoop(c, gen)
}

// readLoop dispatches frames until the socket ends, then runs the close policy.
func (m *Manager) readLoop(c Client, gen uint64) {
	for msg := range c.Messages() {
		m.handleMessage(msg)
	}

	err := c.Err()
	code := closeCode(err)
	m.logger.Debug("socket ended", "code", code, "error", err)
	m.handleClose(c, gen, code)
}

// handleClose applies the close policy. c is nil when a dial failed.
func (m *Manager) handleClose(c Client, gen uint64, code int) {
	m.mu.Lock()
	if gen != m.gen || (c != nil && c != m.client) {
		m.mu.Unlock()
		return
	}
	m.client = nil
	ready := m.ready

	var next func()
	switch {
	case isCleanClose(code):
		m.state = Disconnected
		m.campaign = false
		m.everConnected = false
		m.stopRunLocked()
		next = func() {
			m.backoff.Cancel()
			ready.settle(ErrClosed)
		}

	case m.campaign:
		m.state = Reconnecting
		next = m.backoff.Continue

	case m.everConnected:
		m.state = Reconnecting
		m.campaign = true
		m.campaigns++
		if ready.settled() {
			m.ready = newReadiness()
		}
		next = m.reconnect

	default:
		m.state = Disconnected
		m.stopRunLocked()
		next = func() {
			ready.settle(fmt.Errorf("%w: %s", ErrConnectFailed, m.url))
		}
	}
	state := m.state
	m.mu.Unlock()

	m.logger.Info("connection closed", "code", code, "state", state.String())
	next()

	m.events.Emit(Event{
		Key:        EventClosed,
		Attributes: model.Attributes{"code": code},
	})
	if code == CloseSessionEnded {
		m.events.Emit(Event{
			Key:        EventUnauthorized,
			Attributes: model.Attributes{"code": code},
		})
	}
}

// reconnect starts a new backoff campaign.
func (m *Manager) reconnect() {
	m.logger.Warn("connection lost, reconnecting")
	m.backoff.Start()
}

// stopRunLocked cancels in-flight dials. Must hold mu.
func (m *Manager) stopRunLocked() {
	if m.cancelRun != nil {
		m.cancelRun()
		m.cancelRun = nil
	}
}

// handleMessage resolves correlated responses and emits every frame.
func (m *Manager) handleMessage(msg TimestampedMessage) {
	frame, err := model.ParseFrame(msg.Data)
	if err != nil {
		m.logger.Warn("dropping malformed frame", "error", err, "bytes", len(msg.Data))
		return
	}

	if frame.Kind != model.FrameEnvelope {
		m.events.Emit(Event{Key: EventMessage, Frame: frame, ReceivedAt: msg.ReceivedAt})
		return
	}

	env := frame.Envelope
	attrs := env.Payload.Attributes
	if attrs == nil {
		attrs = model.Attributes{}
	}

	if m.cfg.Trace {
		m.logger.Debug("frame in",
			"type", env.Type,
			"source", env.Headers.Source,
			"correlation_id", env.Headers.CorrelationID,
		)
	}

	if cid := env.Headers.CorrelationID; cid != "" {
		m.resolve(cid, env.Type, attrs)
	}

	subject, ok := ParseSubject(env.Headers.Source)
	evAttrs := attrs.Clone()
	if ok {
		evAttrs[AttrAddress] = subject.Address
	}

	m.events.Emit(Event{
		Key:        keyFor(subject, ok, env.Type),
		Attributes: evAttrs,
		Subject:    subject,
		Frame:      frame,
		ReceivedAt: msg.ReceivedAt,
	})
}

// resolve settles the pending request for cid, if any.
func (m *Manager) resolve(cid, msgType string, attrs model.Attributes) {
	m.mu.Lock()
	p, ok := m.pending[cid]
	if ok {
		delete(m.pending, cid)
		p.timer.Stop()
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	if msgType == model.TypeError {
		perr := model.NewProtocolError(attrs)
		p.result <- result{err: perr}
		if perr.Unauthorized() {
			m.events.Emit(Event{Key: EventUnauthorized, Attributes: attrs})
		}
		return
	}

	p.result <- result{attrs: attrs}
}

// expire rejects a request whose response did not arrive in time. A timeout
// from a connection that a newer one has replaced is ignored; the request
// stays pending until its response, ctx cancellation or Close.
func (m *Manager) expire(p *pendingRequest) {
	m.mu.Lock()
	if m.pending[p.id] != p {
		m.mu.Unlock()
		return
	}
	if m.client != nil && m.epoch != p.epoch {
		m.mu.Unlock()
		m.logger.Debug("timeout from replaced connection ignored", "correlation_id", p.id)
		return
	}
	delete(m.pending, p.id)
	m.mu.Unlock()

	m.logger.Debug("request timed out", "correlation_id", p.id)
	p.result <- result{err: ErrRequestTimeout}
}

// forget drops a pending request without settling it.
func (m *Manager) forget(p *pendingRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending[p.id] == p {
		delete(m.pending, p.id)
		p.timer.Stop()
	}
}

func newToken() (uuid.UUID, error) {
	return uuid.NewUUID()
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}
