package connection

import (
	"context"
	"math/big"
	"net/url"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rollover-caller/internal/metrics"
	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

// Backend is the subset of the node API the rollover caller uses.
// *ethclient.Client and the go-ethereum simulated client both satisfy it.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
}

// ConnectionConfig holds the RPC endpoint settings
type ConnectionConfig struct {
	RPCURL         string
	RequestTimeout time.Duration
}

// ConnectionManager owns the node connection
type ConnectionManager struct {
	config  *ConnectionConfig
	client  *ethclient.Client
	backend Backend
	metrics *metrics.PrometheusMetrics
	mu      sync.RWMutex
	logger  *logrus.Entry
	stats   ConnectionStats
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	Endpoint        string    `json:"endpoint"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
	LatestBlock     uint64    `json:"latest_block"`
	FailedChecks    uint64    `json:"failed_checks"`
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(cfg *ConnectionConfig, pm *metrics.PrometheusMetrics) *ConnectionManager {
	return &ConnectionManager{
		config:  cfg,
		metrics: pm,
		logger:  utils.ComponentLogger("connection"),
		stats: ConnectionStats{
			Endpoint: EndpointLabel(cfg.RPCURL),
		},
	}
}

// Connect dials the configured endpoint. For HTTP endpoints this does not
// contact the node; use HealthCheck to confirm reachability.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.client != nil {
		return nil
	}

	dialCtx := ctx
	if cm.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cm.config.RequestTimeout)
		defer cancel()
	}

	client, err := ethclient.DialContext(dialCtx, cm.config.RPCURL)
	if err != nil {
		if cm.metrics != nil {
			cm.metrics.RecordConnectionError(cm.stats.Endpoint, "dial_failed")
		}
		return utils.NewAppError(utils.ErrCodeConnection, "Failed to dial RPC endpoint", err.Error())
	}

	cm.client = client
	cm.backend = NewInstrumentedBackend(client, cm.stats.Endpoint, cm.metrics)
	cm.stats.LastConnectedAt = time.Now()

	cm.logger.WithField("endpoint", cm.stats.Endpoint).Info("RPC client created")
	return nil
}

// Backend returns the instrumented backend, or nil before Connect
func (cm *ConnectionManager) Backend() Backend {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.backend == nil {
		return nil
	}
	return cm.backend
}

// HealthCheck reads the current block number
func (cm *ConnectionManager) HealthCheck(ctx context.Context) (uint64, error) {
	backend := cm.Backend()
	if backend == nil {
		return 0, utils.NewAppError(utils.ErrCodeConnection, "Not connected", cm.stats.Endpoint)
	}

	if cm.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cm.config.RequestTimeout)
		defer cancel()
	}

	blockNumber, err := backend.BlockNumber(ctx)

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.stats.LastHealthCheck = time.Now()
	if err != nil {
		cm.stats.IsHealthy = false
		cm.stats.FailedChecks++
		return 0, err
	}
	cm.stats.IsHealthy = true
	cm.stats.LatestBlock = blockNumber
	return blockNumber, nil
}

// IsConnected returns whether the last health check succeeded
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.client != nil && cm.stats.IsHealthy
}

// Stats returns connection statistics
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats
}

// Close closes the connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.client != nil {
		cm.client.Close()
		cm.client = nil
		cm.backend = nil
	}

	cm.stats.IsHealthy = false
	cm.logger.Info("Connection manager closed")
	return nil
}

// EndpointLabel reduces an RPC URL to scheme and host so that API keys
// embedded in the path or query never reach logs or metric labels.
func EndpointLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Scheme + "://" + u.Host
}
