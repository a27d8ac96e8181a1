package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// EventSchema is immutable metadata for a single decodable log type: its
// human name, its topic-0 signature hash, and the ABI argument lists needed
// to decode indexed and non-indexed fields.
type EventSchema struct {
	Name       string
	Topic0     common.Hash
	Indexed    abi.Arguments
	NonIndexed abi.Arguments

	abiEvent abi.Event
}

// NewEventSchema builds a schema for eventName out of a parsed contract ABI.
// Construction happens once at scan start.
func NewEventSchema(parsed *abi.ABI, eventName string) (*EventSchema, error) {
	evDef, ok := parsed.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("chain: event %q not found in ABI", eventName)
	}

	var indexed, nonIndexed abi.Arguments
	for _, in := range evDef.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		} else {
			nonIndexed = append(nonIndexed, in)
		}
	}

	return &EventSchema{
		Name:       evDef.Name,
		Topic0:     evDef.ID,
		Indexed:    indexed,
		NonIndexed: nonIndexed,
		abiEvent:   evDef,
	}, nil
}
