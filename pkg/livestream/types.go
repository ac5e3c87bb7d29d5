package livestream

import "github.com/chainscribe/chainscribe/pkg/eventrecord"

// RawLog is one event-log notification as delivered by the node's
// eth_subscribe logs stream. All numeric fields are 0x-prefixed hex strings.
type RawLog struct {
	Removed          bool     `json:"removed"`
	LogIndex         string   `json:"logIndex"`
	TransactionIndex string   `json:"transactionIndex"`
	TransactionHash  string   `json:"transactionHash"`
	BlockHash        string   `json:"blockHash"`
	BlockNumber      string   `json:"blockNumber"`
	Address          string   `json:"address"`
	Data             string   `json:"data"`
	Topics           []string `json:"topics"`
}

// ListenerOutput is a raw log tagged with the internal id of the
// subscription that produced it.
type ListenerOutput struct {
	SubscriptionID int
	Log            RawLog
}

// ProcessorOutput is an enriched record tagged with the internal id of the
// subscription that produced it, so the writer can route it to the right
// collection.
type ProcessorOutput struct {
	SubscriptionID int
	Record         eventrecord.Record
}
