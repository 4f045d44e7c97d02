// Package rpcext exposes the pipeline's read-only query surface
// (get_batch_by_number, get_epoch_by_block, finalized_batch, metrics)
// over plain JSON/HTTP, grounded on the teacher's RPC daemon use of
// httprouter for low-overhead method dispatch.
package rpcext

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/ledgerwatch/log/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/cdk-ingestion/mapping"
	"github.com/gateway-fm/cdk-ingestion/types"
)

// FinalityIndex is the narrow read surface the server needs from the
// finality subsystem to answer finalized_batch.
type FinalityIndex interface {
	GetFinalizedBatches() []types.FinalityTag
}

// Server answers the pipeline's read-only RPC queries.
type Server struct {
	mapper   *mapping.Manager
	finality FinalityIndex
	logger   log.Logger
	router   *httprouter.Router
}

func NewServer(mapper *mapping.Manager, finalityIndex FinalityIndex, logger log.Logger) *Server {
	if logger == nil {
		logger = log.Root()
	}
	s := &Server{mapper: mapper, finality: finalityIndex, logger: logger, router: httprouter.New()}
	s.router.GET("/rpc/get_batch_by_number/:number", s.handleGetBatchByNumber)
	s.router.GET("/rpc/get_epoch_by_block/:number", s.handleGetEpochByBlock)
	s.router.GET("/rpc/finalized_batch", s.handleFinalizedBatch)
	s.router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeInvalidParameter(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "InvalidParameter: " + msg})
}

type batchMetadata struct {
	BlockCount        uint32 `json:"block_count"`
	TransactionCount  int    `json:"transaction_count"`
	SizeBytes         int    `json:"size_bytes"`
	ProcessingTimeMs  int64  `json:"processing_time_ms"`
}

type getBatchByNumberResponse struct {
	Batch    mapping.BatchMapping `json:"batch"`
	Metadata batchMetadata        `json:"metadata"`
}

func (s *Server) handleGetBatchByNumber(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	start := time.Now()
	numberHex := ps.ByName("number")
	number, err := parseHexUint(numberHex)
	if err != nil {
		writeInvalidParameter(w, "batch number must be hex-encoded")
		return
	}

	bm, found, err := s.mapper.LoadBatchMapping(r.Context(), number)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	writeJSON(w, http.StatusOK, getBatchByNumberResponse{
		Batch: *bm,
		Metadata: batchMetadata{
			BlockCount:       bm.BlockCount,
			TransactionCount: 0,
			SizeBytes:        0,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		},
	})
}

type epochMetadata struct {
	BatchCount        uint32  `json:"batch_count"`
	BlockCount        uint32  `json:"block_count"`
	DurationSeconds   uint64  `json:"duration_seconds"`
	AvgBatchSizeBytes float64 `json:"avg_batch_size_bytes"`
}

type getEpochByBlockResponse struct {
	Epoch    mapping.EpochMapping `json:"epoch"`
	Metadata epochMetadata        `json:"metadata"`
}

func (s *Server) handleGetEpochByBlock(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	numberHex := ps.ByName("number")
	blockNumber, err := parseHexUint(numberHex)
	if err != nil {
		writeInvalidParameter(w, "block number must be hex-encoded")
		return
	}

	_, batchMapping, err := s.mapper.ResolveBlock(r.Context(), blockNumber)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if batchMapping == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	epoch, found, err := s.mapper.LoadEpochMapping(r.Context(), batchMapping.EpochId)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	writeJSON(w, http.StatusOK, getEpochByBlockResponse{
		Epoch: *epoch,
		Metadata: epochMetadata{
			BatchCount:      epoch.BatchCount,
			BlockCount:      epoch.BlockCount,
			DurationSeconds: epoch.Timestamp,
		},
	})
}

type finalizedBatchResponse struct {
	BatchId   uint64 `json:"batch_id"`
	Status    string `json:"status"`
	L1Block   uint64 `json:"l1_block"`
	Timestamp uint64 `json:"timestamp"`
}

func (s *Server) handleFinalizedBatch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	tags := s.finality.GetFinalizedBatches()
	if len(tags) == 0 {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	latest := tags[0]
	for _, t := range tags[1:] {
		if t.BatchId.Gt(latest.BatchId) {
			latest = t
		}
	}

	writeJSON(w, http.StatusOK, finalizedBatchResponse{
		BatchId:   latest.BatchId.Uint64(),
		Status:    string(latest.Status),
		L1Block:   latest.L1Block.Uint64(),
		Timestamp: latest.Timestamp,
	})
}

func parseHexUint(s string) (uint64, error) {
	n, err := mapping.ParseHexUint(s)
	if err != nil {
		return 0, err
	}
	return n, nil
}
