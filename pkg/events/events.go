// Package events defines the handler protocol shared by the live and
// historical pipelines. Concrete handlers live in subpackages and are wired
// up through the registry.
package events

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller performs read-only calls against contracts on the chain.
// *chainclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Handler decodes event-specific fields out of a raw log.
//
// ResolveContext must complete successfully before Decode returns anything
// useful; an unresolved handler decodes to an empty map. Context resolution
// failures are fatal to the pipeline that owns the handler.
type Handler interface {
	ResolveContext(ctx context.Context, caller ContractCaller) error
	Decode(rawData string, topics []string) (map[string]string, error)
}
