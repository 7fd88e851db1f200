// Package actionlink owns the single bidirectional socket to the browser
// agent: connection lifecycle, heartbeat, reconnection, and request/response
// correlation by envelope id.
package actionlink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/browserlane/taskengine/internal/domain/entity"
)

// ConnState is the Action Link's connection state machine.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateReady
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

const (
	defaultCallTimeout   = 20 * time.Second
	defaultHeartbeat     = 15 * time.Second
	defaultBacklogLimit  = 64
	maxReconnectAttempts = 5
	reconnectBase        = 1 * time.Second
)

// DisconnectNotifier is invoked once reconnection is exhausted (5 attempts).
// Wired by the application layer to an optional operator notification sink.
type DisconnectNotifier func(reason string)

// waiter is a pending request awaiting a correlated response.
type waiter struct {
	ch   chan entity.Result
	once sync.Once
}

func (w *waiter) complete(r entity.Result) {
	w.once.Do(func() {
		w.ch <- r
		close(w.ch)
	})
}

// Link owns the control socket and demultiplexes responses by envelope id.
// It is safe for concurrent use by many goroutines submitting requests.
type Link struct {
	mu       sync.RWMutex
	conn     *websocket.Conn
	state    ConnState
	pending  map[string]*waiter
	inFlight int

	upgrader websocket.Upgrader
	logger   *zap.Logger

	callTimeout  time.Duration
	heartbeat    time.Duration
	backlogLimit int

	onDisconnect DisconnectNotifier

	writeMu sync.Mutex
	readyCh chan struct{}
}

// New creates an Action Link with default timeouts.
func New(logger *zap.Logger) *Link {
	return &Link{
		pending:      make(map[string]*waiter),
		state:        StateDisconnected,
		logger:       logger.With(zap.String("component", "action-link")),
		callTimeout:  defaultCallTimeout,
		heartbeat:    defaultHeartbeat,
		backlogLimit: defaultBacklogLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetDisconnectNotifier registers the callback fired when reconnection is
// exhausted.
func (l *Link) SetDisconnectNotifier(fn DisconnectNotifier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDisconnect = fn
}

// State returns the current connection state.
func (l *Link) State() ConnState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// ServeWS upgrades the HTTP request to the single browser-agent control
// socket. Only one connection is active at a time; a new connection
// replaces the old one.
func (l *Link) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}
	l.adopt(conn)
	return nil
}

func (l *Link) adopt(conn *websocket.Conn) {
	l.mu.Lock()
	if l.conn != nil {
		l.conn.Close()
	}
	l.conn = conn
	l.state = StateConnecting
	ready := make(chan struct{})
	l.readyCh = ready
	l.mu.Unlock()

	go l.readPump(conn)
	go l.heartbeatLoop(conn)
}

// readPump reads frames until the socket closes, then triggers reconnect
// supervision. Responses may arrive out of order; correlation is by id.
func (l *Link) readPump(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			l.logger.Warn("action link read error", zap.Error(err))
			break
		}
		l.handleFrame(raw)
	}
	l.onConnLost(conn)
}

func (l *Link) handleFrame(raw []byte) {
	var probe struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		l.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch probe.Type {
	case "connected":
		l.mu.Lock()
		l.state = StateReady
		if l.readyCh != nil {
			close(l.readyCh)
			l.readyCh = nil
		}
		l.mu.Unlock()
		l.logger.Info("action link handshake received")
		return
	case "ping":
		l.writeFrame(entity.ControlFrame{Type: "pong"})
		return
	case "pong":
		// Agent's answer to our heartbeat; nothing to correlate.
		return
	}

	if probe.ID == "" {
		l.logger.Debug("dropping uncorrelated frame", zap.ByteString("frame", raw))
		return
	}

	var res entity.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		l.logger.Warn("dropping unparsable result frame", zap.Error(err))
		return
	}

	l.mu.Lock()
	w, ok := l.pending[res.ID]
	if ok {
		delete(l.pending, res.ID)
		l.inFlight--
	}
	l.mu.Unlock()

	if !ok {
		// Unknown ids are dropped, not forwarded.
		l.logger.Debug("dropping frame with unknown id", zap.String("id", res.ID))
		return
	}
	w.complete(res)
}

func (l *Link) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(l.heartbeat)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.RLock()
		current := l.conn
		l.mu.RUnlock()
		if current != conn {
			return
		}
		if err := l.writeFrame(entity.ControlFrame{Type: "ping"}); err != nil {
			return
		}
	}
}

func (l *Link) writeFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	conn := l.conn
	l.mu.RUnlock()
	if conn == nil {
		return entity.ErrDisconnected
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// onConnLost fails every pending waiter with a transport error and starts
// the reconnect-backoff supervisor. Reconnection here means waiting for a
// new inbound ServeWS call (the browser agent re-dials); the supervisor
// only tracks the attempt counter and fires the disconnect notifier once
// exhausted.
func (l *Link) onConnLost(conn *websocket.Conn) {
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
		l.state = StateDisconnected
	}
	pending := l.pending
	l.pending = make(map[string]*waiter)
	l.inFlight = 0
	l.mu.Unlock()

	for _, w := range pending {
		w.complete(entity.Result{Status: entity.ResultError, Error: "transport_error"})
	}

	go l.superviseReconnect()
}

// superviseReconnect waits, with exponential backoff (base 1s, x2^(n-1)),
// for a new connection to arrive via ServeWS. If none arrives within 5
// attempts it fires the disconnect notifier exactly once.
func (l *Link) superviseReconnect() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = reconnectBase * (1 << (maxReconnectAttempts - 1))

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		timer := time.NewTimer(delay)
		<-timer.C

		l.mu.RLock()
		reconnected := l.state == StateReady
		l.mu.RUnlock()
		if reconnected {
			return
		}
	}

	l.mu.RLock()
	reconnected := l.state == StateReady
	notify := l.onDisconnect
	l.mu.RUnlock()

	if !reconnected && notify != nil {
		notify("action link: reconnection exhausted after 5 attempts")
	}
}

// Call sends an action envelope and blocks until a correlated response
// arrives, the per-call deadline expires, or ctx is cancelled. A fresh id
// is allocated for every call; ids are unique for the process lifetime.
func (l *Link) Call(ctx context.Context, action entity.ActionKind, payload map[string]any) (*entity.Result, error) {
	l.mu.Lock()
	if l.inFlight >= l.backlogLimit {
		l.mu.Unlock()
		return nil, entity.ErrBusy
	}
	if l.conn == nil {
		l.mu.Unlock()
		return nil, entity.ErrDisconnected
	}

	id := newCorrelationID()
	w := &waiter{ch: make(chan entity.Result, 1)}
	l.pending[id] = w
	l.inFlight++
	l.mu.Unlock()

	env := entity.Envelope{ID: id, Action: action, Payload: payload}
	if err := l.writeFrame(env); err != nil {
		l.abandon(id)
		return nil, entity.NewEngineError(entity.ErrKindTransport, "write failed", err)
	}

	timeout := l.callTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		return &res, nil
	case <-timer.C:
		l.abandon(id)
		return nil, entity.NewEngineError(entity.ErrKindActionTimeout, fmt.Sprintf("no response within %s", timeout), nil)
	case <-ctx.Done():
		l.abandon(id)
		return nil, ctx.Err()
	}
}

// abandon removes a waiter whose caller gave up (timeout or cancellation).
// The reader may have already resolved and removed it in the same instant,
// so only decrement inFlight when the entry is still pending — otherwise
// the counter drifts and loosens the backpressure bound.
func (l *Link) abandon(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pending[id]; ok {
		delete(l.pending, id)
		l.inFlight--
	}
}

var correlationSeq uint64
var correlationMu sync.Mutex

func newCorrelationID() string {
	correlationMu.Lock()
	defer correlationMu.Unlock()
	correlationSeq++
	return fmt.Sprintf("act-%d-%d", time.Now().UnixNano(), correlationSeq)
}
