package eth

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrNoMatchingSchema = errors.New("no matching event schema")

// EventSchema is one known event shape. Logs match on topic0 and on the exact
// number of topics (signature + indexed args).
type EventSchema struct {
	Name  string
	Event abi.Event
}

func (s EventSchema) ID() common.Hash {
	return s.Event.ID
}

func (s EventSchema) topicCount() int {
	n := 1
	for _, in := range s.Event.Inputs {
		if in.Indexed {
			n++
		}
	}
	return n
}

type DecodedEvent struct {
	Schema EventSchema
	Log    types.Log
	Args   map[string]interface{}
}

func (e DecodedEvent) Address(name string) (common.Address, error) {
	v, ok := e.Args[name]
	if !ok {
		return common.Address{}, fmt.Errorf("%s: missing field %q", e.Schema.Name, name)
	}
	addr, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: field %q is %T, not an address", e.Schema.Name, name, v)
	}
	return addr, nil
}

func (e DecodedEvent) BigInt(name string) (*big.Int, error) {
	v, ok := e.Args[name]
	if !ok {
		return nil, fmt.Errorf("%s: missing field %q", e.Schema.Name, name)
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: field %q is %T, not an integer", e.Schema.Name, name, v)
	}
	return n, nil
}

// IsMint reports whether a decoded NFT transfer came from the zero address.
func (e DecodedEvent) IsMint() bool {
	if e.Schema.Name != NFTTransfer.Name {
		return false
	}
	from, err := e.Address("from")
	return err == nil && from == ZeroAddress
}

type Decoder struct {
	schemas []EventSchema
}

func NewDecoder(schemas ...EventSchema) *Decoder {
	if len(schemas) == 0 {
		schemas = AllSchemas
	}
	return &Decoder{schemas: schemas}
}

// Decode tries each schema in order and returns the first one that parses.
func (d *Decoder) Decode(lg types.Log) (DecodedEvent, error) {
	if len(lg.Topics) == 0 {
		return DecodedEvent{}, ErrNoMatchingSchema
	}
	for _, schema := range d.schemas {
		if lg.Topics[0] != schema.Event.ID || len(lg.Topics) != schema.topicCount() {
			continue
		}
		args, err := unpackLog(schema.Event, lg)
		if err != nil {
			continue
		}
		return DecodedEvent{Schema: schema, Log: lg, Args: args}, nil
	}
	return DecodedEvent{}, ErrNoMatchingSchema
}

// DecodeAll drops logs that match no schema.
func (d *Decoder) DecodeAll(logs []types.Log) []DecodedEvent {
	out := make([]DecodedEvent, 0, len(logs))
	for _, lg := range logs {
		ev, err := d.Decode(lg)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func unpackLog(event abi.Event, lg types.Log) (map[string]interface{}, error) {
	args := make(map[string]interface{})
	var indexed abi.Arguments
	for _, in := range event.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	if len(event.Inputs.NonIndexed()) > 0 {
		if err := event.Inputs.NonIndexed().UnpackIntoMap(args, lg.Data); err != nil {
			return nil, fmt.Errorf("unpack data: %w", err)
		}
	}
	return args, nil
}
