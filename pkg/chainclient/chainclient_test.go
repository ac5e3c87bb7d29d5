package chainclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// rpcServer fakes the node's JSON-RPC endpoint with per-method canned
// responses that can change between calls.
type rpcServer struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]func(call int) string
}

func newRPCServer() *rpcServer {
	return &rpcServer{
		calls:   map[string]int{},
		results: map[string]func(call int) string{},
	}
}

func (s *rpcServer) handle(method string, result func(call int) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[method] = result
}

func (s *rpcServer) callCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *rpcServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	call := s.calls[req.Method]
	s.calls[req.Method]++
	result, ok := s.results[req.Method]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, result(call))
}

func newTestClient(t *testing.T, server *rpcServer, opts ...Option) *Client {
	t.Helper()
	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)

	client, err := Dial(httpServer.URL, opts...)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestBlockTimestampRetriesNullBlocks(t *testing.T) {
	t.Parallel()

	server := newRPCServer()
	server.handle("eth_getBlockByHash", func(call int) string {
		if call == 0 {
			return "null"
		}
		return `{"timestamp":"0x608e1f0b"}`
	})
	client := newTestClient(t, server, WithBlockRetryInterval(time.Millisecond*10))

	ts, err := client.BlockTimestamp(context.Background(), "0xblock")
	require.NoError(t, err)
	require.Equal(t, int64(0x608e1f0b), ts)
	require.Equal(t, 2, server.callCount("eth_getBlockByHash"))

	// Second lookup is served from the cache.
	_, err = client.BlockTimestamp(context.Background(), "0xblock")
	require.NoError(t, err)
	require.Equal(t, 2, server.callCount("eth_getBlockByHash"))
}

func TestBlockTimestampHonorsContext(t *testing.T) {
	t.Parallel()

	server := newRPCServer()
	server.handle("eth_getBlockByHash", func(int) string { return "null" })
	client := newTestClient(t, server, WithBlockRetryInterval(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()
	_, err := client.BlockTimestamp(ctx, "0xblock")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransactionReceipt(t *testing.T) {
	t.Parallel()

	server := newRPCServer()
	server.handle("eth_getTransactionReceipt", func(call int) string {
		if call < 2 {
			return "null"
		}
		return `{"gasUsed":"0x5208","effectiveGasPrice":"0x3b9aca00"}`
	})
	client := newTestClient(t, server)

	// Misses aren't cached: both lookups hit the node.
	_, err := client.TransactionReceipt(context.Background(), "0xtxn")
	require.ErrorIs(t, err, ErrReceiptNotFound)
	_, err = client.TransactionReceipt(context.Background(), "0xtxn")
	require.ErrorIs(t, err, ErrReceiptNotFound)
	require.Equal(t, 2, server.callCount("eth_getTransactionReceipt"))

	receipt, err := client.TransactionReceipt(context.Background(), "0xtxn")
	require.NoError(t, err)
	require.Equal(t, int64(21000), receipt.GasUsed.ToInt().Int64())
	require.Equal(t, int64(1000000000), receipt.EffectiveGasPrice.ToInt().Int64())

	// Successes are cached.
	_, err = client.TransactionReceipt(context.Background(), "0xtxn")
	require.NoError(t, err)
	require.Equal(t, 3, server.callCount("eth_getTransactionReceipt"))
}

func TestCallContract(t *testing.T) {
	t.Parallel()

	server := newRPCServer()
	server.handle("eth_call", func(int) string { return `"0x0000002a"` })
	client := newTestClient(t, server)

	ret, err := client.CallContract(context.Background(), common.Address{0x01}, []byte{0xaa, 0xbb})
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x2a}, ret)
}
