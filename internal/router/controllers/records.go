package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/chainscribe/chainscribe/internal/gateway"
	"github.com/chainscribe/chainscribe/pkg/errors"
	"github.com/chainscribe/chainscribe/pkg/eventrecord"
	"github.com/chainscribe/chainscribe/pkg/eventstore"
)

// RecordsController defines the HTTP handlers for querying persisted records.
type RecordsController struct {
	gateway *gateway.Gateway
}

// NewRecordsController creates a new RecordsController.
func NewRecordsController(g *gateway.Gateway) *RecordsController {
	return &RecordsController{g}
}

type recordsResponse struct {
	Total   int64                `json:"total"`
	Records []eventrecord.Record `json:"records"`
}

// GetSwaps handles the GET /api/v1/uniswap/v3_pool/swaps call. Records are
// selected either by transaction hash or by a block range with an optional
// contract address.
func (c *RecordsController) GetSwaps(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	ctx := r.Context()
	q := r.URL.Query()

	filter := eventstore.RecordsFilter{TransactionHash: q.Get("transaction_hash")}
	if filter.TransactionHash == "" {
		if q.Get("from_block") == "" || q.Get("to_block") == "" {
			rw.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(rw).Encode(errors.ServiceError{
				Message: "Either transaction_hash or from_block and to_block must be provided",
			})
			return
		}
		var err error
		if filter.FromBlock, err = parseBlockParam(q.Get("from_block")); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "Invalid from_block"})
			return
		}
		if filter.ToBlock, err = parseBlockParam(q.Get("to_block")); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "Invalid to_block"})
			return
		}
		if filter.FromBlock > filter.ToBlock {
			rw.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "Inverted block range"})
			return
		}
		filter.ContractAddress = q.Get("contract_address")
		if filter.Limit, err = parsePageParam(q.Get("limit")); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "Invalid limit"})
			return
		}
		if filter.Offset, err = parsePageParam(q.Get("offset")); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "Invalid offset"})
			return
		}
	}

	records, total, err := c.gateway.ListRecords(ctx, "swaps", filter)
	if err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		log.Ctx(ctx).Error().Err(err).Msg("listing swap records")
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "Listing swap records failed"})
		return
	}
	if records == nil {
		records = []eventrecord.Record{}
	}

	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(recordsResponse{Total: total, Records: records})
}

type gasQuoteResponse struct {
	TransactionHash string                    `json:"transaction_hash"`
	GasUsed         string                    `json:"gas_used"`
	GasPriceWei     string                    `json:"gas_price_wei"`
	GasPriceQuote   eventrecord.GasPriceQuote `json:"gas_price_quote"`
}

// GetGasQuote handles the GET /api/v1/gas/{transactionHash} call.
func (c *RecordsController) GetGasQuote(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	txnHash := mux.Vars(r)["transactionHash"]
	record, err := c.gateway.GasQuote(ctx, txnHash)
	if err == gateway.ErrRecordNotFound {
		rw.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		log.Ctx(ctx).Error().Err(err).Msg("get gas quote by transaction hash")
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "Get gas quote failed"})
		return
	}

	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(gasQuoteResponse{
		TransactionHash: record.TransactionHash,
		GasUsed:         record.GasUsed,
		GasPriceWei:     record.GasPriceWei,
		GasPriceQuote:   record.GasPriceQuote,
	})
}

func parseBlockParam(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, strconv.ErrRange
	}
	return v, nil
}

func parsePageParam(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return parseBlockParam(s)
}
