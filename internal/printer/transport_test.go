package printer

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readyManager(t *testing.T, ep Endpoint) (*Manager, *fakeDevice) {
	t.Helper()
	dev := deviceWith(ep)
	m := NewManager(&fakePicker{dev: dev}, fastOptions())
	require.NoError(t, m.Connect(context.Background()))
	drainEvents(m)
	return m, dev
}

func TestPrintChunksPayload(t *testing.T) {
	ep := newVendorEndpoint()
	m, _ := readyManager(t, ep)

	payload := []byte("0123456789ABCDEFGH") // 18 bytes, chunk size 4
	require.NoError(t, m.Print(context.Background(), payload))

	assert.True(t, bytes.Equal(ep.written(), payload), "reassembled chunks must equal the payload")
	assert.Equal(t, 5, ep.chunkCount(), "18 bytes in 4-byte chunks")
	for i, w := range ep.writes {
		if i < 4 {
			assert.Len(t, w, 4)
		} else {
			assert.Len(t, w, 2, "final chunk carries the remainder")
		}
	}
}

func TestPrintPrefersUnacknowledgedWrites(t *testing.T) {
	ep := newVendorEndpoint()
	m, _ := readyManager(t, ep)

	require.NoError(t, m.Print(context.Background(), []byte("abcd")))
	assert.Equal(t, 1, ep.nrWrites)
	assert.Equal(t, 0, ep.ackWrites)
}

func TestPrintFallsBackToAcknowledgedMode(t *testing.T) {
	ep := newVendorEndpoint()
	ep.failNoResp = 1 // first unacknowledged write fails silently-ish
	m, _ := readyManager(t, ep)

	require.NoError(t, m.Print(context.Background(), []byte("abcd")))
	assert.Equal(t, 1, ep.nrWrites)
	assert.Equal(t, 1, ep.ackWrites, "failed chunk retried once in acknowledged mode")
	assert.Equal(t, []byte("abcd"), ep.written())
}

func TestPrintAckOnlyEndpoint(t *testing.T) {
	ep := newVendorEndpoint()
	ep.noRespWrite = false
	m, _ := readyManager(t, ep)

	require.NoError(t, m.Print(context.Background(), []byte("abcd")))
	assert.Equal(t, 0, ep.nrWrites)
	assert.Equal(t, 1, ep.ackWrites)
}

func TestPrintWholeDocumentRetryOnce(t *testing.T) {
	first := newVendorEndpoint()
	first.failNoResp = 1 << 20
	first.failAck = 1 << 20
	second := newVendorEndpoint()

	dev := &fakeDevice{name: "p", sessions: []*fakeSession{
		{eps: []Endpoint{first}},
		{eps: []Endpoint{second}},
	}}
	m := NewManager(&fakePicker{dev: dev}, fastOptions())
	require.NoError(t, m.Connect(context.Background()))

	payload := []byte("0123456789")
	require.NoError(t, m.Print(context.Background(), payload))

	assert.Empty(t, first.writes, "first attempt never landed a byte")
	assert.Equal(t, payload, second.written(), "retry resent the whole document")
}

func TestPrintFailsAfterRetryBudget(t *testing.T) {
	broken := func() *fakeEndpoint {
		ep := newVendorEndpoint()
		ep.failNoResp = 1 << 20
		ep.failAck = 1 << 20
		return ep
	}
	dev := &fakeDevice{name: "p", sessions: []*fakeSession{
		{eps: []Endpoint{broken()}},
		{eps: []Endpoint{broken()}},
	}}
	m := NewManager(&fakePicker{dev: dev}, fastOptions())
	require.NoError(t, m.Connect(context.Background()))

	err := m.Print(context.Background(), []byte("0123456789"))
	assert.ErrorIs(t, err, ErrWriteFailed)
}

func TestPrintNotConnected(t *testing.T) {
	m := NewManager(&fakePicker{}, fastOptions())

	err := m.Print(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPrintRestoresBeforeWriting(t *testing.T) {
	first := &fakeSession{eps: []Endpoint{newVendorEndpoint()}}
	second := newVendorEndpoint()
	dev := &fakeDevice{name: "p", sessions: []*fakeSession{
		first,
		{eps: []Endpoint{second}},
	}}
	m := NewManager(&fakePicker{dev: dev}, fastOptions())
	require.NoError(t, m.Connect(context.Background()))

	dev.dropLink()
	require.Equal(t, StateDisconnected, m.State())

	require.NoError(t, m.Print(context.Background(), []byte("ab")))
	assert.Equal(t, StateReady, m.State())
	assert.Equal(t, []byte("ab"), second.written())
}

func TestPrintEmptyPayloadIsNoop(t *testing.T) {
	m := NewManager(&fakePicker{}, fastOptions())
	assert.NoError(t, m.Print(context.Background(), nil))
}

func TestPrintSingleFlight(t *testing.T) {
	ep := newVendorEndpoint()
	m, _ := readyManager(t, ep)

	// Hold the operation lock as a concurrent print would.
	m.opMu.Lock()
	var wg sync.WaitGroup
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		err = m.Print(context.Background(), []byte("abcd"))
	}()
	wg.Wait()
	m.opMu.Unlock()

	assert.ErrorIs(t, err, ErrPrintInFlight)
}
