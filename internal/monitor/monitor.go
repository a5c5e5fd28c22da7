package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/blocknest/sweeperd/pkg/common/config"
	"github.com/blocknest/sweeperd/pkg/common/logger"
	"github.com/blocknest/sweeperd/pkg/common/types"
	"github.com/blocknest/sweeperd/pkg/retry"
)

// State describes where the monitor is in its connection lifecycle.
type State int

const (
	StateStopped State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// TransactionResolver turns a txid observed on the wire into full
// transaction detail. node.Node satisfies this.
type TransactionResolver interface {
	GetTransaction(ctx context.Context, txid string) (*types.TransactionDetail, error)
}

// Monitor keeps a websocket subscription feed alive for one coin. It owns the
// connection lifecycle: connect, subscribe tracked addresses, dispatch inbound
// events, and reconnect with exponential backoff when the connection drops.
// Subscriptions survive reconnects; they are replayed on every new connection.
type Monitor struct {
	coin     string
	url      string
	resolver TransactionResolver
	handler  Handler
	dial     Dialer
	cfg      config.MonitorConfig
	logger   *slog.Logger

	mu        sync.Mutex
	addresses map[string]struct{}
	order     []string
	transport Transport
	state     State
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a monitor for one coin's websocket endpoint. Events are
// delivered to handler one at a time, in the order received.
func New(coin, wsURL string, resolver TransactionResolver, handler Handler, cfg config.MonitorConfig) *Monitor {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if cfg.CapDelay <= 0 {
		cfg.CapDelay = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Monitor{
		coin:      coin,
		url:       wsURL,
		resolver:  resolver,
		handler:   handler,
		dial:      NewWebsocketTransport,
		cfg:       cfg,
		logger:    logger.With("coin", coin, "component", "monitor"),
		addresses: make(map[string]struct{}),
		state:     StateStopped,
	}
}

// SetDialer overrides the transport factory. Must be called before Start.
func (m *Monitor) SetDialer(d Dialer) {
	m.dial = d
}

// Start launches the connection loop. Calling Start on a running monitor is
// a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.logger.Warn("Monitor already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.state = StateConnecting

	go m.run(ctx)
	m.logger.Info("Monitor started", "url", m.url)
}

// Stop shuts the monitor down and waits for the connection loop to exit.
// Safe to call on a stopped monitor.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	transport := m.transport
	done := m.done
	m.mu.Unlock()

	cancel()
	if transport != nil {
		// Unblocks a pending Receive
		_ = transport.Close()
	}
	<-done

	m.mu.Lock()
	m.running = false
	m.state = StateStopped
	m.mu.Unlock()
	m.logger.Info("Monitor stopped")
}

// Done returns a channel closed when the connection loop exits, whether by
// Stop or by exhausting the reconnect budget.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return m.done
}

func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TrackedAddresses returns the subscribed addresses in subscription order.
func (m *Monitor) TrackedAddresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Subscribe registers an address for transaction notifications. Subscribing
// an already-tracked address is a no-op. If the monitor is connected the
// subscription is sent immediately; otherwise it takes effect on the next
// (re)connect.
func (m *Monitor) Subscribe(address string) error {
	m.mu.Lock()
	if _, ok := m.addresses[address]; !ok {
		m.addresses[address] = struct{}{}
		m.order = append(m.order, address)
	}
	transport := m.transport
	m.mu.Unlock()

	if transport != nil {
		if err := m.sendSubscription(transport, "subscribeAddresses", "sub_", address); err != nil {
			// The address is tracked either way; replay on the next
			// reconnect delivers the subscription.
			m.logger.Warn("Subscribe send failed, will replay on reconnect",
				"address", address, "error", err)
		}
	}
	return nil
}

// Unsubscribe removes an address from the tracked set. Unknown addresses are
// ignored.
func (m *Monitor) Unsubscribe(address string) error {
	m.mu.Lock()
	if _, ok := m.addresses[address]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.addresses, address)
	for i, a := range m.order {
		if a == address {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	transport := m.transport
	m.mu.Unlock()

	if transport != nil {
		if err := m.sendSubscription(transport, "unsubscribeAddresses", "unsub_", address); err != nil {
			// Untracked addresses are simply not replayed after reconnect.
			m.logger.Warn("Unsubscribe send failed", "address", address, "error", err)
		}
	}
	return nil
}

// run is the connection loop. It exits when the context is cancelled or the
// reconnect budget is exhausted.
func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			m.markStopped()
			return
		}

		m.setState(StateConnecting)
		transport := m.dial()
		err := transport.Connect(ctx, m.url)
		if err == nil {
			m.mu.Lock()
			m.transport = transport
			m.state = StateConnected
			m.mu.Unlock()

			attempt = 0
			m.logger.Info("Websocket connected", "url", m.url)

			if err = m.replaySubscriptions(transport); err == nil {
				err = m.listen(ctx, transport)
			}

			m.mu.Lock()
			m.transport = nil
			m.mu.Unlock()
		}
		_ = transport.Close()

		if ctx.Err() != nil {
			m.markStopped()
			return
		}

		m.logger.Error("Websocket connection lost", "error", err)
		attempt++
		if attempt > m.cfg.MaxAttempts {
			m.logger.Error("Max reconnection attempts reached, giving up",
				"attempts", m.cfg.MaxAttempts)
			m.mu.Lock()
			m.running = false
			m.cancel()
			m.mu.Unlock()
			m.markStopped()
			return
		}

		delay := backoffDelay(m.cfg.BaseDelay, m.cfg.CapDelay, attempt)
		m.setState(StateBackoff)
		m.logger.Info("Reconnecting", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.markStopped()
			return
		case <-timer.C:
		}
	}
}

func (m *Monitor) listen(ctx context.Context, transport Transport) error {
	for {
		message, err := transport.Receive()
		if err != nil {
			return err
		}
		m.handleMessage(ctx, message)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// replaySubscriptions re-sends every tracked address on a fresh connection.
func (m *Monitor) replaySubscriptions(transport Transport) error {
	for _, address := range m.TrackedAddresses() {
		if err := m.sendSubscription(transport, "subscribeAddresses", "sub_", address); err != nil {
			return err
		}
	}
	return nil
}

type subscriptionParams struct {
	Addresses []string `json:"addresses"`
}

type subscriptionMessage struct {
	ID     string             `json:"id"`
	Method string             `json:"method"`
	Params subscriptionParams `json:"params"`
}

func (m *Monitor) sendSubscription(transport Transport, method, idPrefix, address string) error {
	payload, err := json.Marshal(subscriptionMessage{
		ID:     idPrefix + address,
		Method: method,
		Params: subscriptionParams{Addresses: []string{address}},
	})
	if err != nil {
		return err
	}
	return transport.Send(payload)
}

type inboundMessage struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data"`
}

type addressNotification struct {
	Address string `json:"address"`
	Tx      struct {
		TxID string `json:"txid"`
	} `json:"tx"`
}

// handleMessage parses one inbound frame and dispatches it. Malformed frames
// are logged and dropped; they never tear down the connection.
func (m *Monitor) handleMessage(ctx context.Context, message []byte) {
	var inbound inboundMessage
	if err := json.Unmarshal(message, &inbound); err != nil {
		m.logger.Warn("Dropping malformed websocket message", "error", err)
		return
	}

	switch inbound.Method {
	case "subscribeAddresses":
		var notif addressNotification
		if err := json.Unmarshal(inbound.Data, &notif); err != nil || notif.Address == "" || notif.Tx.TxID == "" {
			m.logger.Warn("Dropping malformed address notification", "error", err)
			return
		}
		m.dispatchAddressTransaction(ctx, notif.Address, notif.Tx.TxID)

	case "subscribeNewBlock":
		var block types.BlockSummary
		if err := json.Unmarshal(inbound.Data, &block); err != nil {
			m.logger.Warn("Dropping malformed block notification", "error", err)
			return
		}
		m.handler.OnNewBlock(ctx, NewBlockEvent{Coin: m.coin, Block: block})

	case "":
		// Subscription acks carry an id and no method
		m.logger.Debug("Subscription acknowledged", "id", inbound.ID)

	default:
		m.logger.Debug("Ignoring unknown method", "method", inbound.Method)
	}
}

func (m *Monitor) dispatchAddressTransaction(ctx context.Context, address, txid string) {
	// The backend notifies before it has indexed the transaction itself,
	// so the first lookup can miss.
	var tx *types.TransactionDetail
	err := retry.Exponential(func() error {
		var err error
		tx, err = m.resolver.GetTransaction(ctx, txid)
		if err != nil && ctx.Err() != nil {
			return retry.Permanent(err)
		}
		return err
	}, retry.ExponentialConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxElapsedTime:  10 * time.Second,
		OnRetry: func(err error, next time.Duration) {
			m.logger.Debug("Retrying transaction lookup", "txid", txid, "next", next)
		},
	})
	if err != nil {
		m.logger.Error("Failed to resolve transaction", "txid", txid, "error", err)
		return
	}

	m.logger.Info("Address transaction", "address", address, "txid", txid)
	m.handler.OnAddressTransaction(ctx, AddressTransactionEvent{
		Coin:    m.coin,
		Address: address,
		Tx:      tx,
	})
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Monitor) markStopped() {
	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
}

// backoffDelay doubles the base delay per attempt, capped. The first retry
// waits 2*base.
func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	d := base << uint(attempt)
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}
