// Package indexer queries an etherscan-style log indexer for historical
// event logs over a block range.
package indexer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

// DefaultBaseURL points at the production indexer.
const DefaultBaseURL = "https://api.etherscan.io"

// Log is one raw event log as returned by the indexer. All fields are
// 0x-prefixed hex strings.
type Log struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      string   `json:"blockNumber"`
	TimeStamp        string   `json:"timeStamp"`
	GasPrice         string   `json:"gasPrice"`
	GasUsed          string   `json:"gasUsed"`
	LogIndex         string   `json:"logIndex"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
}

// Client queries the indexer REST API.
type Client struct {
	log     zerolog.Logger
	baseURL string
	apiKey  string
	http    *http.Client
}

// New returns a client for the indexer at baseURL.
func New(baseURL, apiKey string) *Client {
	return &Client{
		log:     logger.With().Str("component", "indexer").Logger(),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{},
	}
}

// GetLogs returns the logs emitted by the contract with the given topics[0]
// between fromBlock and toBlock inclusive. The indexer doesn't paginate and
// silently truncates oversized windows, so callers must keep ranges small.
func (c *Client) GetLogs(
	ctx context.Context, contractAddress, topic string, fromBlock, toBlock int64,
) ([]Log, error) {
	uri := fmt.Sprintf(
		"%s/api?module=logs&action=getLogs&apikey=%s&address=%s&topic0=%s&fromBlock=%d&toBlock=%d",
		c.baseURL, c.apiKey, contractAddress, topic, fromBlock, toBlock,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("creating getLogs request: %s", err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching logs: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getLogs request returned status %d", res.StatusCode)
	}

	// The indexer reuses the result field for error strings, so decode it
	// in two steps.
	var envelope struct {
		Message string              `json:"message"`
		Result  jsoniter.RawMessage `json:"result"`
	}
	if err := jsoniter.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding getLogs response: %s", err)
	}
	var logs []Log
	if err := jsoniter.Unmarshal(envelope.Result, &logs); err != nil {
		return nil, fmt.Errorf("indexer rejected getLogs request: %s", string(envelope.Result))
	}
	return logs, nil
}

// ResetConnections drops idle HTTP connections so the next request opens a
// fresh one.
func (c *Client) ResetConnections() {
	c.http.CloseIdleConnections()
}
