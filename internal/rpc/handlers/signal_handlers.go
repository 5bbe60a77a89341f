package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/6529-Collections/royaltynode/internal/royalty"
	"github.com/6529-Collections/royaltynode/internal/signals"
)

const maxSignalBody = 1 << 16

type SignalPublisher interface {
	Publish(sig signals.Signal) error
}

type SignalResponse struct {
	Accepted bool   `json:"accepted"`
	Address  string `json:"address"`
	Kind     string `json:"kind"`
}

// SignalsPostHandler accepts {"address", "kind", "txHash"} and publishes it
// for the refresh policies.
func SignalsPostHandler(r *http.Request, bus SignalPublisher) (SignalResponse, error) {
	var sig signals.Signal
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSignalBody)).Decode(&sig); err != nil {
		return SignalResponse{}, BadRequest(fmt.Errorf("invalid signal body: %w", err))
	}
	if sig.Address != signals.Broadcast {
		if _, err := royalty.ParseAddress(sig.Address); err != nil {
			return SignalResponse{}, BadRequest(err)
		}
	}
	sig.Origin = signals.OriginHTTP

	normalized, err := sig.Normalize()
	if err != nil {
		return SignalResponse{}, BadRequest(err)
	}
	if err := bus.Publish(normalized); err != nil {
		return SignalResponse{}, err
	}
	return SignalResponse{Accepted: true, Address: normalized.Address, Kind: string(normalized.Kind)}, nil
}
