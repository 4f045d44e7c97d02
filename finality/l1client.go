package finality

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/holiman/uint256"
	"github.com/ledgerwatch/log/v3"

	"github.com/gateway-fm/cdk-ingestion/internal/retry"
	"github.com/gateway-fm/cdk-ingestion/types"
)

// L1Block is the subset of an Ethereum block header the oracle needs.
type L1Block struct {
	Number    *uint256.Int
	Hash      types.Hash
	Timestamp uint64
}

// L1Client is a thin JSON-RPC adapter over an Ethereum-compatible node.
// No ecosystem library in the retrieval pack offers a lightweight
// JSON-RPC client for just these five calls without pulling in a full
// chain client (erigon/go-ethereum); net/http plus encoding/json is
// used deliberately here instead of importing a whole node.
type L1Client struct {
	url        string
	httpClient *http.Client
	retry      retry.Policy
	logger     log.Logger
}

func NewL1Client(url string, logger log.Logger) *L1Client {
	if logger == nil {
		logger = log.Root()
	}
	return &L1Client{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: retry.Policy{
			MaxAttempts: 3,
			Retryable:   func(error) bool { return true },
		},
		logger: logger,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *L1Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	return c.retry.Do(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
		if err != nil {
			return newErr(KindL1Rpc, "marshal request", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return newErr(KindL1Rpc, "build request", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return newErr(KindL1Rpc, fmt.Sprintf("%s: transport", method), err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return newErr(KindL1Rpc, fmt.Sprintf("%s: http %d", method, resp.StatusCode), nil)
		}

		var rr rpcResponse
		if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
			return newErr(KindL1Rpc, fmt.Sprintf("%s: decode envelope", method), err)
		}
		if rr.Error != nil {
			return newErr(KindL1Rpc, fmt.Sprintf("%s: rpc error %d: %s", method, rr.Error.Code, rr.Error.Message), nil)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return newErr(KindL1Rpc, fmt.Sprintf("%s: decode result", method), err)
		}
		return nil
	})
}

func (c *L1Client) GetChainID(ctx context.Context) (*uint256.Int, error) {
	var hex string
	if err := c.call(ctx, "eth_chainId", nil, &hex); err != nil {
		return nil, err
	}
	n, err := uint256.FromHex(hex)
	if err != nil {
		return nil, newErr(KindL1Rpc, "parse chain id", err)
	}
	return n, nil
}

func (c *L1Client) GetCurrentBlockNumber(ctx context.Context) (uint64, error) {
	var hex string
	if err := c.call(ctx, "eth_blockNumber", nil, &hex); err != nil {
		return 0, err
	}
	n, err := uint256.FromHex(hex)
	if err != nil {
		return 0, newErr(KindL1Rpc, "parse block number", err)
	}
	return n.Uint64(), nil
}

type rawBlock struct {
	Number    string `json:"number"`
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
}

func (c *L1Client) GetBlockByNumber(ctx context.Context, number uint64) (*L1Block, error) {
	var rb rawBlock
	param := fmt.Sprintf("0x%x", number)
	if err := c.call(ctx, "eth_getBlockByNumber", []interface{}{param, false}, &rb); err != nil {
		return nil, err
	}
	if rb.Hash == "" {
		return nil, nil
	}
	n, err := uint256.FromHex(rb.Number)
	if err != nil {
		return nil, newErr(KindL1Rpc, "parse block.number", err)
	}
	ts, err := uint256.FromHex(rb.Timestamp)
	if err != nil {
		return nil, newErr(KindL1Rpc, "parse block.timestamp", err)
	}
	hash, err := types.HexToHash(rb.Hash)
	if err != nil {
		return nil, newErr(KindL1Rpc, "parse block.hash", err)
	}
	return &L1Block{Number: n, Hash: hash, Timestamp: ts.Uint64()}, nil
}

func (c *L1Client) CallContract(ctx context.Context, addr types.Hash, data []byte, at *uint64) ([]byte, error) {
	callObj := map[string]string{
		"to":   addr.String(),
		"data": fmt.Sprintf("0x%x", data),
	}
	block := "latest"
	if at != nil {
		block = fmt.Sprintf("0x%x", *at)
	}
	var hex string
	if err := c.call(ctx, "eth_call", []interface{}{callObj, block}, &hex); err != nil {
		return nil, newErr(KindContractCall, "eth_call", err)
	}
	return decodeHexBytes(hex)
}

func (c *L1Client) HealthCheck(ctx context.Context) error {
	_, err := c.GetCurrentBlockNumber(ctx)
	return err
}

// topicBatchFinalized and topicBatchRolledBack are the bridge
// contract's event signatures, matching spec.md §6's L1 bridge events.
const (
	topicBatchFinalized  = "0x427c92f118fa254fc4d6695e893e0911b741d862b4ccf35e793d3547ba7a3d9d"
	topicBatchRolledBack = "0x4bbe1b1d06423c0e38e276f65017501cef3d5fa82af7386f1941312537c4cf13"
)

type rawLog struct {
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	BlockHash   string   `json:"blockHash"`
}

func (c *L1Client) getLogs(ctx context.Context, topic0 string, fromBlock, toBlock uint64) ([]rawLog, error) {
	filter := map[string]interface{}{
		"fromBlock": fmt.Sprintf("0x%x", fromBlock),
		"toBlock":   fmt.Sprintf("0x%x", toBlock),
		"topics":    []string{topic0},
	}
	var logs []rawLog
	if err := c.call(ctx, "eth_getLogs", []interface{}{filter}, &logs); err != nil {
		return nil, newErr(KindContractCall, "eth_getLogs", err)
	}
	return logs, nil
}

// decodeFinalityLog parses a BatchFinalized/BatchRolledBack log into a
// FinalityTag. Both events carry the batch id as topics[1] and encode no
// further data the oracle needs beyond the log's own block number/hash.
func decodeFinalityLog(l rawLog, status types.FinalityStatus) (types.FinalityTag, error) {
	if len(l.Topics) < 2 {
		return types.FinalityTag{}, newErr(KindContractCall, "decode log: missing batch id topic", nil)
	}
	batchId, err := uint256.FromHex(l.Topics[1])
	if err != nil {
		return types.FinalityTag{}, newErr(KindContractCall, "decode log: batch id", err)
	}
	blockNumber, err := uint256.FromHex(l.BlockNumber)
	if err != nil {
		return types.FinalityTag{}, newErr(KindContractCall, "decode log: block number", err)
	}
	blockHash, err := types.HexToHash(l.BlockHash)
	if err != nil {
		return types.FinalityTag{}, newErr(KindContractCall, "decode log: block hash", err)
	}
	return types.FinalityTag{
		BatchId:     batchId,
		L1Block:     blockNumber,
		L1BlockHash: blockHash,
		Status:      status,
	}, nil
}

// FinalizedLogs implements LogFilter by reading BatchFinalized events
// from the bridge contract between fromBlock and toBlock, inclusive.
func (c *L1Client) FinalizedLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.FinalityTag, error) {
	logs, err := c.getLogs(ctx, topicBatchFinalized, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}
	tags := make([]types.FinalityTag, 0, len(logs))
	for _, l := range logs {
		tag, err := decodeFinalityLog(l, types.FinalityFinalized)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// RolledBackLogs implements LogFilter by reading BatchRolledBack events
// from the bridge contract between fromBlock and toBlock, inclusive.
func (c *L1Client) RolledBackLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.FinalityTag, error) {
	logs, err := c.getLogs(ctx, topicBatchRolledBack, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}
	tags := make([]types.FinalityTag, 0, len(logs))
	for _, l := range logs {
		tag, err := decodeFinalityLog(l, types.FinalityRolledBack)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

var _ LogFilter = (*L1Client)(nil)
var _ HeadReader = (*L1Client)(nil)

func decodeHexBytes(s string) ([]byte, error) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}
