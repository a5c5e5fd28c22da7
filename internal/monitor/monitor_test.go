package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocknest/sweeperd/pkg/common/config"
	"github.com/blocknest/sweeperd/pkg/common/types"
)

type fakeTransport struct {
	mu         sync.Mutex
	sent       [][]byte
	inbound    chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	connectErr error
	sendErr    error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) Connect(ctx context.Context, url string) error {
	return f.connectErr
}

func (f *fakeTransport) Send(message []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeTransport) Receive() ([]byte, error) {
	select {
	case message := <-f.inbound:
		return message, nil
	case <-f.closed:
		return nil, errors.New("connection closed")
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = string(m)
	}
	return out
}

// dialerFor hands out the given transports in order, then failing ones.
func dialerFor(transports ...*fakeTransport) Dialer {
	queue := make(chan *fakeTransport, len(transports))
	for _, t := range transports {
		queue <- t
	}
	return func() Transport {
		select {
		case t := <-queue:
			return t
		default:
			t := newFakeTransport()
			t.connectErr = errors.New("no more transports")
			return t
		}
	}
}

type fakeResolver struct {
	err error
}

func (r *fakeResolver) GetTransaction(ctx context.Context, txid string) (*types.TransactionDetail, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &types.TransactionDetail{TxID: txid}, nil
}

type captureHandler struct {
	events chan any
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{events: make(chan any, 16)}
}

func (h *captureHandler) OnAddressTransaction(ctx context.Context, event AddressTransactionEvent) {
	h.events <- event
}

func (h *captureHandler) OnNewBlock(ctx context.Context, event NewBlockEvent) {
	h.events <- event
}

func (h *captureHandler) next(t *testing.T) any {
	t.Helper()
	select {
	case event := <-h.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func testConfig() config.MonitorConfig {
	return config.MonitorConfig{
		BaseDelay:   time.Millisecond,
		CapDelay:    100 * time.Millisecond,
		MaxAttempts: 10,
	}
}

func waitState(t *testing.T, m *Monitor, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		2*time.Second, 5*time.Millisecond, "monitor never reached state %s", want)
}

func TestMonitor_SubscribeSendsWireMessage(t *testing.T) {
	transport := newFakeTransport()
	m := New("BTC", "wss://test", &fakeResolver{}, newCaptureHandler(), testConfig())
	m.SetDialer(dialerFor(transport))

	m.Start()
	defer m.Stop()
	waitState(t, m, StateConnected)

	require.NoError(t, m.Subscribe("bc1qaddr"))

	require.Eventually(t, func() bool { return len(transport.sentMessages()) == 1 },
		time.Second, 5*time.Millisecond)
	assert.JSONEq(t,
		`{"id":"sub_bc1qaddr","method":"subscribeAddresses","params":{"addresses":["bc1qaddr"]}}`,
		transport.sentMessages()[0])
	assert.Equal(t, []string{"bc1qaddr"}, m.TrackedAddresses())
}

func TestMonitor_UnsubscribeSendsWireMessage(t *testing.T) {
	transport := newFakeTransport()
	m := New("BTC", "wss://test", &fakeResolver{}, newCaptureHandler(), testConfig())
	m.SetDialer(dialerFor(transport))

	m.Start()
	defer m.Stop()
	waitState(t, m, StateConnected)

	require.NoError(t, m.Subscribe("addr1"))
	require.NoError(t, m.Unsubscribe("addr1"))

	require.Eventually(t, func() bool { return len(transport.sentMessages()) == 2 },
		time.Second, 5*time.Millisecond)
	assert.JSONEq(t,
		`{"id":"unsub_addr1","method":"unsubscribeAddresses","params":{"addresses":["addr1"]}}`,
		transport.sentMessages()[1])
	assert.Empty(t, m.TrackedAddresses())

	// Unsubscribing an unknown address is a no-op
	require.NoError(t, m.Unsubscribe("never-seen"))
	assert.Len(t, transport.sentMessages(), 2)
}

func TestMonitor_ReplaysSubscriptionsOnReconnect(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	m := New("LTC", "wss://test", &fakeResolver{}, newCaptureHandler(), testConfig())
	m.SetDialer(dialerFor(first, second))

	m.Start()
	defer m.Stop()
	waitState(t, m, StateConnected)

	require.NoError(t, m.Subscribe("addrA"))
	require.NoError(t, m.Subscribe("addrB"))
	// Duplicate subscription must not create a second replay entry
	require.NoError(t, m.Subscribe("addrA"))

	// Drop the connection
	first.Close()

	require.Eventually(t, func() bool { return len(second.sentMessages()) == 2 },
		2*time.Second, 5*time.Millisecond)
	assert.JSONEq(t,
		`{"id":"sub_addrA","method":"subscribeAddresses","params":{"addresses":["addrA"]}}`,
		second.sentMessages()[0])
	assert.JSONEq(t,
		`{"id":"sub_addrB","method":"subscribeAddresses","params":{"addresses":["addrB"]}}`,
		second.sentMessages()[1])
}

func TestMonitor_SubscribeSendFailureStillTracked(t *testing.T) {
	first := newFakeTransport()
	first.sendErr = errors.New("broken pipe")
	second := newFakeTransport()
	m := New("BTC", "wss://test", &fakeResolver{}, newCaptureHandler(), testConfig())
	m.SetDialer(dialerFor(first, second))

	m.Start()
	defer m.Stop()
	waitState(t, m, StateConnected)

	// The send fails but the address stays tracked; the caller sees no error.
	require.NoError(t, m.Subscribe("addr1"))
	assert.Equal(t, []string{"addr1"}, m.TrackedAddresses())

	// Reconnect replay delivers the subscription.
	first.Close()
	require.Eventually(t, func() bool { return len(second.sentMessages()) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Contains(t, second.sentMessages()[0], "sub_addr1")
}

func TestMonitor_SubscribeWhileDisconnectedTakesEffectOnConnect(t *testing.T) {
	transport := newFakeTransport()
	m := New("BTC", "wss://test", &fakeResolver{}, newCaptureHandler(), testConfig())
	m.SetDialer(dialerFor(transport))

	require.NoError(t, m.Subscribe("early-addr"))

	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool { return len(transport.sentMessages()) == 1 },
		time.Second, 5*time.Millisecond)
	assert.Contains(t, transport.sentMessages()[0], "sub_early-addr")
}

func TestMonitor_DispatchesEventsInOrder(t *testing.T) {
	transport := newFakeTransport()
	handler := newCaptureHandler()
	m := New("DOGE", "wss://test", &fakeResolver{}, handler, testConfig())
	m.SetDialer(dialerFor(transport))

	m.Start()
	defer m.Stop()
	waitState(t, m, StateConnected)

	transport.inbound <- []byte(`{"method":"subscribeAddresses","data":{"address":"DAddr","tx":{"txid":"tx1"}}}`)
	transport.inbound <- []byte(`{"method":"subscribeNewBlock","data":{"height":12345,"hash":"abc"}}`)

	txEvent, ok := handler.next(t).(AddressTransactionEvent)
	require.True(t, ok, "expected address transaction first")
	assert.Equal(t, "DOGE", txEvent.Coin)
	assert.Equal(t, "DAddr", txEvent.Address)
	assert.Equal(t, "tx1", txEvent.Tx.TxID)

	blockEvent, ok := handler.next(t).(NewBlockEvent)
	require.True(t, ok, "expected block event second")
	assert.Equal(t, int64(12345), blockEvent.Block.Height)
}

func TestMonitor_MalformedMessagesAreDropped(t *testing.T) {
	transport := newFakeTransport()
	handler := newCaptureHandler()
	m := New("BTC", "wss://test", &fakeResolver{}, handler, testConfig())
	m.SetDialer(dialerFor(transport))

	m.Start()
	defer m.Stop()
	waitState(t, m, StateConnected)

	transport.inbound <- []byte(`{not json`)
	transport.inbound <- []byte(`{"method":"subscribeAddresses","data":{"address":"","tx":{}}}`)
	transport.inbound <- []byte(`{"id":"sub_x","data":true}`)
	transport.inbound <- []byte(`{"method":"subscribeAddresses","data":{"address":"a1","tx":{"txid":"t1"}}}`)

	event, ok := handler.next(t).(AddressTransactionEvent)
	require.True(t, ok)
	assert.Equal(t, "t1", event.Tx.TxID)
	assert.Equal(t, StateConnected, m.State(), "bad frames must not drop the connection")
}

func TestMonitor_ResolverFailureDropsEvent(t *testing.T) {
	transport := newFakeTransport()
	handler := newCaptureHandler()
	m := New("BTC", "wss://test", &fakeResolver{err: errors.New("backend down")}, handler, testConfig())
	m.SetDialer(dialerFor(transport))

	m.Start()
	defer m.Stop()
	waitState(t, m, StateConnected)

	transport.inbound <- []byte(`{"method":"subscribeAddresses","data":{"address":"a1","tx":{"txid":"t1"}}}`)

	select {
	case event := <-handler.events:
		t.Fatalf("unexpected event %v", event)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, StateConnected, m.State())
}

func TestMonitor_StopDuringBackoff(t *testing.T) {
	failing := newFakeTransport()
	failing.connectErr = errors.New("refused")
	m := New("BTC", "wss://test", &fakeResolver{}, newCaptureHandler(), config.MonitorConfig{
		BaseDelay:   time.Hour,
		CapDelay:    time.Hour,
		MaxAttempts: 10,
	})
	m.SetDialer(func() Transport { return failing })

	m.Start()
	waitState(t, m, StateBackoff)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt backoff sleep")
	}
	assert.False(t, m.IsRunning())
	assert.Equal(t, StateStopped, m.State())
}

func TestMonitor_GivesUpAfterMaxAttempts(t *testing.T) {
	m := New("BTC", "wss://test", &fakeResolver{}, newCaptureHandler(), config.MonitorConfig{
		BaseDelay:   time.Millisecond,
		CapDelay:    5 * time.Millisecond,
		MaxAttempts: 3,
	})
	m.SetDialer(func() Transport {
		t := newFakeTransport()
		t.connectErr = errors.New("refused")
		return t
	})

	m.Start()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor should stop itself")
	}
	assert.False(t, m.IsRunning())
	assert.Equal(t, StateStopped, m.State())
}

func TestMonitor_DoneBeforeStartIsClosed(t *testing.T) {
	m := New("BTC", "wss://test", &fakeResolver{}, newCaptureHandler(), testConfig())
	select {
	case <-m.Done():
	default:
		t.Fatal("Done must be closed for a never-started monitor")
	}
}

func TestMonitor_StartTwiceIsNoop(t *testing.T) {
	transport := newFakeTransport()
	m := New("BTC", "wss://test", &fakeResolver{}, newCaptureHandler(), testConfig())
	m.SetDialer(dialerFor(transport))

	m.Start()
	defer m.Stop()
	waitState(t, m, StateConnected)
	m.Start()
	assert.True(t, m.IsRunning())
}

func TestBackoffDelay(t *testing.T) {
	base := 5 * time.Second
	ceiling := 300 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 80 * time.Second},
		{5, 160 * time.Second},
		{6, 300 * time.Second},
		{10, 300 * time.Second},
		{63, 300 * time.Second}, // overflow guard
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, backoffDelay(base, ceiling, tc.attempt),
			"attempt %d", tc.attempt)
	}
}

func TestSubscriptionMessageShape(t *testing.T) {
	payload, err := json.Marshal(subscriptionMessage{
		ID:     "sub_x",
		Method: "subscribeAddresses",
		Params: subscriptionParams{Addresses: []string{"x"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"sub_x","method":"subscribeAddresses","params":{"addresses":["x"]}}`, string(payload))
}
