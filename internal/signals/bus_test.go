package signals

import (
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(bus *Bus) (func() []Signal, func()) {
	var mu sync.Mutex
	var got []Signal
	unsubscribe := bus.Subscribe(func(s Signal) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
	})
	return func() []Signal {
		mu.Lock()
		defer mu.Unlock()
		return append([]Signal(nil), got...)
	}, unsubscribe
}

func TestBus_DeliversToEverySubscriber(t *testing.T) {
	bus := NewBus()
	first, unsubFirst := collect(bus)
	second, unsubSecond := collect(bus)
	defer unsubFirst()
	defer unsubSecond()

	require.NoError(t, bus.Publish(Signal{Address: "0xABC", Kind: KindPurchase}))

	for _, got := range []func() []Signal{first, second} {
		require.Eventually(t, func() bool { return len(got()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, Signal{Address: "0xabc", Kind: KindPurchase, Origin: OriginLocal}, got()[0])
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	got, unsubscribe := collect(bus)
	unsubscribe()
	unsubscribe()

	require.NoError(t, bus.Publish(Signal{Address: "0xabc"}))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got())
}

func TestBus_PublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	release := make(chan struct{})
	unsubscribe := bus.Subscribe(func(Signal) { <-release })
	defer unsubscribe()
	defer close(release)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			_ = bus.Publish(Signal{Address: "0xabc"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestBus_RejectsMissingAddress(t *testing.T) {
	err := NewBus().Publish(Signal{Kind: KindMint})
	assert.ErrorIs(t, err, ErrInvalidSignal)
}

func TestDecode(t *testing.T) {
	sig, err := Decode([]byte(`{"address":"0xAbC","kind":"mint","txHash":"0x01"}`))
	require.NoError(t, err)
	assert.Equal(t, Signal{Address: "0xabc", Kind: KindMint, TxHash: "0x01", Origin: OriginLocal}, sig)

	sig, err = Decode([]byte(`{"address":"*"}`))
	require.NoError(t, err)
	assert.Equal(t, KindRefresh, sig.Kind)

	_, err = Decode([]byte(`nope`))
	assert.ErrorIs(t, err, ErrInvalidSignal)
	_, err = Decode([]byte(`{"kind":"mint"}`))
	assert.ErrorIs(t, err, ErrInvalidSignal)
}

func TestNATSBridge_Handle(t *testing.T) {
	bus := NewBus()
	got, unsubscribe := collect(bus)
	defer unsubscribe()
	bridge := &NATSBridge{bus: bus, subject: "royalties.signals"}

	bridge.handle(&nats.Msg{Subject: "royalties.signals", Data: []byte(`{"address":"0xDEF","kind":"purchase"}`)})
	bridge.handle(&nats.Msg{Subject: "royalties.signals", Data: []byte(`garbage`)})

	require.Eventually(t, func() bool { return len(got()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Signal{Address: "0xdef", Kind: KindPurchase, Origin: OriginNATS}, got()[0])
}
