// Package registry maps event ids to their persistence category, log topic,
// and handler constructor. Adding support for a new event means adding one
// entry to the metadata map plus a handler package.
package registry

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainscribe/chainscribe/pkg/events"
	"github.com/chainscribe/chainscribe/pkg/events/uniswapv3"
)

// ErrUnknownEvent indicates an event id with no registered metadata.
var ErrUnknownEvent = errors.New("unknown event id")

// Metadata describes one supported event type. Handlers are optional: events
// without decoding logic still get recorded with an empty data map.
type Metadata struct {
	Category   string
	Topic      common.Hash
	NewHandler func(contract common.Address) events.Handler
}

var supportedEvents = map[string]Metadata{
	"uniswap-v3-pool-swap": {
		Category: "swaps",
		Topic:    uniswapv3.SwapEventTopic,
		NewHandler: func(contract common.Address) events.Handler {
			return uniswapv3.NewSwapHandler(contract)
		},
	},
}

// Category returns the document-store collection name for the event id.
func Category(eventID string) (string, error) {
	md, err := metadata(eventID)
	if err != nil {
		return "", err
	}
	return md.Category, nil
}

// Topic returns the topics[0] hash used to subscribe to the event.
func Topic(eventID string) (common.Hash, error) {
	md, err := metadata(eventID)
	if err != nil {
		return common.Hash{}, err
	}
	return md.Topic, nil
}

// NewHandler builds a handler for the event id bound to the given contract.
// A nil handler with nil error means the event has no decoding logic.
func NewHandler(eventID string, contract common.Address) (events.Handler, error) {
	md, err := metadata(eventID)
	if err != nil {
		return nil, err
	}
	if md.NewHandler == nil {
		return nil, nil
	}
	return md.NewHandler(contract), nil
}

// Categories returns the distinct persistence categories of all supported
// events.
func Categories() []string {
	seen := map[string]struct{}{}
	var categories []string
	for _, md := range supportedEvents {
		if _, ok := seen[md.Category]; ok {
			continue
		}
		seen[md.Category] = struct{}{}
		categories = append(categories, md.Category)
	}
	return categories
}

func metadata(eventID string) (Metadata, error) {
	md, ok := supportedEvents[eventID]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %q", ErrUnknownEvent, eventID)
	}
	return md, nil
}
