// Package uniswapv3 implements the event handler for Uniswap V3 pool Swap
// events. Before decoding, the handler resolves the pool's token pair
// metadata (addresses, symbols, decimals) with read-only chain calls and
// derives the fixed-point scaling factors used to express swap prices.
package uniswapv3

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainscribe/chainscribe/pkg/events"
)

// SwapEventSignature is the canonical signature of the pool's Swap event.
const SwapEventSignature = "Swap(address,address,int256,int256,uint160,uint128,int24)"

// SwapEventTopic is topics[0] of every Swap log.
var SwapEventTopic = crypto.Keccak256Hash([]byte(SwapEventSignature))

var (
	token0Selector   = crypto.Keccak256([]byte("token0()"))[:4]
	token1Selector   = crypto.Keccak256([]byte("token1()"))[:4]
	symbolSelector   = crypto.Keccak256([]byte("symbol()"))[:4]
	decimalsSelector = crypto.Keccak256([]byte("decimals()"))[:4]
)

var (
	// Non-indexed fields of the Swap event, in data order. The indexed
	// sender and recipient live in topics[1] and topics[2].
	swapDataArgs = abi.Arguments{
		{Type: mustType("int256")},  // amount0
		{Type: mustType("int256")},  // amount1
		{Type: mustType("uint160")}, // sqrtPriceX96
		{Type: mustType("uint128")}, // liquidity
		{Type: mustType("int24")},   // tick
	}
	stringRetArgs = abi.Arguments{{Type: mustType("string")}}
	uint8RetArgs  = abi.Arguments{{Type: mustType("uint8")}}
)

func mustType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("building abi type %s: %s", t, err))
	}
	return ty
}

// SwapHandler decodes Swap events from one pool contract.
type SwapHandler struct {
	pool common.Address

	// Resolved once by ResolveContext, read-only afterwards.
	resolved      bool
	token0Address common.Address
	token1Address common.Address
	symbol0       string
	symbol1       string
	decimals0     uint8
	decimals1     uint8
	scale0        *big.Int // 10^(18 + decimals0 - decimals1)
	scale1        *big.Int // 10^(18 + decimals1 - decimals0)
}

// NewSwapHandler returns a handler for the given pool contract.
func NewSwapHandler(pool common.Address) *SwapHandler {
	return &SwapHandler{pool: pool}
}

// ResolveContext resolves the pool's token pair metadata. It is idempotent;
// the first successful resolution wins.
func (h *SwapHandler) ResolveContext(ctx context.Context, caller events.ContractCaller) error {
	if h.resolved {
		return nil
	}

	token0Ret, err := caller.CallContract(ctx, h.pool, token0Selector)
	if err != nil {
		return fmt.Errorf("calling token0(): %s", err)
	}
	token1Ret, err := caller.CallContract(ctx, h.pool, token1Selector)
	if err != nil {
		return fmt.Errorf("calling token1(): %s", err)
	}
	h.token0Address = common.BytesToAddress(token0Ret)
	h.token1Address = common.BytesToAddress(token1Ret)

	if h.symbol0, err = h.callSymbol(ctx, caller, h.token0Address); err != nil {
		return fmt.Errorf("resolving token0 symbol: %s", err)
	}
	if h.symbol1, err = h.callSymbol(ctx, caller, h.token1Address); err != nil {
		return fmt.Errorf("resolving token1 symbol: %s", err)
	}
	if h.decimals0, err = h.callDecimals(ctx, caller, h.token0Address); err != nil {
		return fmt.Errorf("resolving token0 decimals: %s", err)
	}
	if h.decimals1, err = h.callDecimals(ctx, caller, h.token1Address); err != nil {
		return fmt.Errorf("resolving token1 decimals: %s", err)
	}

	scale0Exp := 18 + int(h.decimals0) - int(h.decimals1)
	scale1Exp := 18 + int(h.decimals1) - int(h.decimals0)
	if scale0Exp < 0 || scale1Exp < 0 {
		return fmt.Errorf("unsupported decimals pair (%d, %d)", h.decimals0, h.decimals1)
	}
	h.scale0 = pow10(scale0Exp)
	h.scale1 = pow10(scale1Exp)
	h.resolved = true

	return nil
}

// Decode decodes the Swap event's payload and computes both swap prices as
// fixed-point integers with 18 implicit fractional digits.
//
// Returns an empty map when the handler context hasn't been resolved yet.
func (h *SwapHandler) Decode(rawData string, topics []string) (map[string]string, error) {
	if !h.resolved {
		return map[string]string{}, nil
	}
	if len(topics) < 3 {
		return nil, fmt.Errorf("expected 3 topics, got %d", len(topics))
	}

	data, err := hexutil.Decode(rawData)
	if err != nil {
		return nil, fmt.Errorf("decoding data payload: %s", err)
	}
	vals, err := swapDataArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpacking swap data: %s", err)
	}
	amount0 := vals[0].(*big.Int)
	amount1 := vals[1].(*big.Int)
	sqrtPriceX96 := vals[2].(*big.Int)
	liquidity := vals[3].(*big.Int)
	tick := vals[4].(*big.Int)

	// Guard against zero amounts (division by zero).
	swapPrice0 := big.NewInt(0)
	swapPrice1 := big.NewInt(0)
	if amount0.Sign() != 0 && amount1.Sign() != 0 {
		// swapPrice0 = price of token0 quoted in token1, and vice versa.
		swapPrice0 = new(big.Int).Neg(floorDiv(new(big.Int).Mul(h.scale0, amount1), amount0))
		swapPrice1 = new(big.Int).Neg(floorDiv(new(big.Int).Mul(h.scale1, amount0), amount1))
	}

	sender := common.BytesToAddress(common.HexToHash(topics[1]).Bytes())
	recipient := common.BytesToAddress(common.HexToHash(topics[2]).Bytes())

	return map[string]string{
		"sender":         sender.Hex(),
		"recipient":      recipient.Hex(),
		"symbol_0":       h.symbol0,
		"symbol_1":       h.symbol1,
		"amount_0":       amount0.String(),
		"amount_1":       amount1.String(),
		"swap_price_0":   swapPrice0.String(),
		"swap_price_1":   swapPrice1.String(),
		"sqrt_price_x96": sqrtPriceX96.String(),
		"liquidity":      liquidity.String(),
		"tick":           tick.String(),
	}, nil
}

// Symbols returns the resolved token pair symbols.
func (h *SwapHandler) Symbols() (string, string) {
	return h.symbol0, h.symbol1
}

func (h *SwapHandler) callSymbol(
	ctx context.Context, caller events.ContractCaller, token common.Address,
) (string, error) {
	ret, err := caller.CallContract(ctx, token, symbolSelector)
	if err != nil {
		return "", fmt.Errorf("calling symbol(): %s", err)
	}
	vals, err := stringRetArgs.Unpack(ret)
	if err != nil {
		return "", fmt.Errorf("unpacking symbol: %s", err)
	}
	return vals[0].(string), nil
}

func (h *SwapHandler) callDecimals(
	ctx context.Context, caller events.ContractCaller, token common.Address,
) (uint8, error) {
	ret, err := caller.CallContract(ctx, token, decimalsSelector)
	if err != nil {
		return 0, fmt.Errorf("calling decimals(): %s", err)
	}
	vals, err := uint8RetArgs.Unpack(ret)
	if err != nil {
		return 0, fmt.Errorf("unpacking decimals: %s", err)
	}
	return vals[0].(uint8), nil
}

// floorDiv returns floor(x/y), rounding towards negative infinity as the
// swap price formulas require. big.Int.Quo truncates towards zero instead.
func floorDiv(x, y *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(x, y, new(big.Int))
	if r.Sign() != 0 && (r.Sign() < 0) != (y.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
	}
	return q
}

func pow10(exp int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}
