package signals

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Decode parses a JSON signal as published on the NATS subject.
func Decode(data []byte) (Signal, error) {
	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return Signal{}, fmt.Errorf("%w: %w", ErrInvalidSignal, err)
	}
	return sig.Normalize()
}

// NATSBridge republishes signals from a NATS subject onto the bus.
type NATSBridge struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	bus     *Bus
	subject string
}

func ConnectNATS(url, subject string, bus *Bus) (*NATSBridge, error) {
	nc, err := nats.Connect(url,
		nats.Name("royaltynode-signals"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b := &NATSBridge{nc: nc, bus: bus, subject: subject}
	if bus != nil {
		sub, err := nc.Subscribe(subject, b.handle)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		b.sub = sub
	}
	zap.L().Info("NATS signal bridge connected", zap.String("url", url), zap.String("subject", subject))
	return b, nil
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	sig, err := Decode(msg.Data)
	if err != nil {
		zap.L().Warn("Ignoring malformed signal", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	sig.Origin = OriginNATS
	if err := b.bus.Publish(sig); err != nil {
		zap.L().Warn("Failed to publish signal", zap.Error(err))
	}
}

// Announce publishes sig on the subject for every connected node.
func (b *NATSBridge) Announce(sig Signal) error {
	sig, err := sig.Normalize()
	if err != nil {
		return err
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		return fmt.Errorf("failed to publish signal: %w", err)
	}
	return b.nc.Flush()
}

func (b *NATSBridge) Close() {
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			zap.L().Warn("Failed to unsubscribe from NATS", zap.Error(err))
		}
	}
	b.nc.Close()
}
