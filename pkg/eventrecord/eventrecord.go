// Package eventrecord defines the schema of enriched event-log records as
// they are persisted to the document store and served by the gateway.
//
// Every numeric amount is kept as a decimal string since gas costs, swap
// amounts, and quoted prices routinely exceed 64 bits.
package eventrecord

// GasPriceQuote is the gas cost of a transaction denominated in a quote
// currency, as integer units of the oracle's smallest price increment.
type GasPriceQuote struct {
	Currency string `json:"currency" bson:"currency"`
	Value    string `json:"value" bson:"value"`
}

// Record is one enriched event log.
type Record struct {
	EventID         string            `json:"event_id" bson:"event_id"`
	TransactionHash string            `json:"transaction_hash" bson:"transaction_hash"`
	LogIndex        uint64            `json:"log_index" bson:"log_index"`
	BlockNumber     uint64            `json:"block_number" bson:"block_number"`
	Timestamp       int64             `json:"timestamp" bson:"timestamp"`
	GasUsed         string            `json:"gas_used" bson:"gas_used"`
	GasPriceWei     string            `json:"gas_price_wei" bson:"gas_price_wei"`
	GasPriceQuote   GasPriceQuote     `json:"gas_price_quote" bson:"gas_price_quote"`
	Address         string            `json:"address" bson:"address"`
	Topics          []string          `json:"topics" bson:"topics"`
	RawData         string            `json:"raw_data" bson:"raw_data"`
	Data            map[string]string `json:"data" bson:"data"`
}
