package connection

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/smartdevs17/rollover-caller/internal/metrics"
)

// InstrumentedBackend records request count and latency for every call
type InstrumentedBackend struct {
	backend  Backend
	endpoint string
	metrics  *metrics.PrometheusMetrics
}

// NewInstrumentedBackend wraps backend. pm may be nil.
func NewInstrumentedBackend(backend Backend, endpoint string, pm *metrics.PrometheusMetrics) *InstrumentedBackend {
	return &InstrumentedBackend{
		backend:  backend,
		endpoint: endpoint,
		metrics:  pm,
	}
}

func (ib *InstrumentedBackend) observe(method string, start time.Time, err error) {
	if ib.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		ib.metrics.RecordConnectionError(ib.endpoint, "rpc_call_failed")
	}
	ib.metrics.RecordRPCRequest(ib.endpoint, method, status, time.Since(start))
}

// BlockNumber implements Backend
func (ib *InstrumentedBackend) BlockNumber(ctx context.Context) (uint64, error) {
	start := time.Now()
	n, err := ib.backend.BlockNumber(ctx)
	ib.observe("eth_blockNumber", start, err)
	return n, err
}

// ChainID implements Backend
func (ib *InstrumentedBackend) ChainID(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	id, err := ib.backend.ChainID(ctx)
	ib.observe("eth_chainId", start, err)
	return id, err
}

// PendingNonceAt implements Backend
func (ib *InstrumentedBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	start := time.Now()
	nonce, err := ib.backend.PendingNonceAt(ctx, account)
	ib.observe("eth_getTransactionCount", start, err)
	return nonce, err
}

// SuggestGasPrice implements Backend
func (ib *InstrumentedBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	price, err := ib.backend.SuggestGasPrice(ctx)
	ib.observe("eth_gasPrice", start, err)
	return price, err
}

// EstimateGas implements Backend
func (ib *InstrumentedBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	start := time.Now()
	gas, err := ib.backend.EstimateGas(ctx, msg)
	ib.observe("eth_estimateGas", start, err)
	return gas, err
}

// SendTransaction implements Backend
func (ib *InstrumentedBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	start := time.Now()
	err := ib.backend.SendTransaction(ctx, tx)
	ib.observe("eth_sendRawTransaction", start, err)
	return err
}

// TransactionReceipt implements Backend. A not-yet-mined transaction is not
// counted as an error since receipt polling expects it.
func (ib *InstrumentedBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	start := time.Now()
	receipt, err := ib.backend.TransactionReceipt(ctx, txHash)
	if err == ethereum.NotFound {
		ib.observe("eth_getTransactionReceipt", start, nil)
	} else {
		ib.observe("eth_getTransactionReceipt", start, err)
	}
	return receipt, err
}

// CodeAt implements Backend
func (ib *InstrumentedBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	start := time.Now()
	code, err := ib.backend.CodeAt(ctx, contract, blockNumber)
	ib.observe("eth_getCode", start, err)
	return code, err
}
