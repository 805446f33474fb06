// Package caller submits the rollover transaction and records its outcome.
package caller

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rollover-caller/internal/connection"
	"github.com/smartdevs17/rollover-caller/internal/journal"
	"github.com/smartdevs17/rollover-caller/internal/metrics"
	"github.com/smartdevs17/rollover-caller/internal/models"
	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

// Recorder persists finished attempts
type Recorder interface {
	SaveAttempt(ctx context.Context, attempt *models.Attempt) error
}

// Notifier publishes finished attempts
type Notifier interface {
	Notify(ctx context.Context, attempt *models.Attempt)
}

// WaitFunc blocks until tx is included and returns its receipt
type WaitFunc func(ctx context.Context, b bind.DeployBackend, tx *types.Transaction) (*types.Receipt, error)

// Config holds the caller settings
type Config struct {
	PrivateKey      string
	ContractAddress string
	Method          string
	// ChainID of 0 means query the node once and cache the result.
	ChainID int64
	// GasLimit of 0 means estimate and add a 20% buffer.
	GasLimit uint64
	// ConfirmTimeout of 0 waits for the receipt until the context ends.
	ConfirmTimeout time.Duration
}

// Dependencies are the collaborators of a Caller. Recorder, Notifier and Metrics are optional.
type Dependencies struct {
	Backend  connection.Backend
	Journal  *journal.Journal
	Metrics  *metrics.PrometheusMetrics
	Recorder Recorder
	Notifier Notifier
}

// Caller holds everything one rollover invocation needs. It is built once at
// startup and is safe for concurrent use by overlapping invocations.
type Caller struct {
	backend        connection.Backend
	signer         *Signer
	contract       common.Address
	abi            abi.ABI
	method         string
	gasLimit       uint64
	confirmTimeout time.Duration

	journal  *journal.Journal
	metrics  *metrics.PrometheusMetrics
	recorder Recorder
	notifier Notifier
	logger   *logrus.Entry

	waitMined WaitFunc

	chainMu sync.Mutex
	chainID *big.Int
}

// New validates cfg and builds a Caller. It performs no network calls.
func New(cfg *Config, deps Dependencies) (*Caller, error) {
	if deps.Backend == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Backend is required")
	}
	if deps.Journal == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Journal is required")
	}
	if !utils.IsValidAddress(cfg.ContractAddress) {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid contract address", cfg.ContractAddress)
	}

	signer, err := NewSigner(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	method := cfg.Method
	if method == "" {
		method = DefaultMethod
	}
	parsed, err := ParseABI(method)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid contract method", err.Error())
	}

	c := &Caller{
		backend:        deps.Backend,
		signer:         signer,
		contract:       common.HexToAddress(cfg.ContractAddress),
		abi:            parsed,
		method:         method,
		gasLimit:       cfg.GasLimit,
		confirmTimeout: cfg.ConfirmTimeout,
		journal:        deps.Journal,
		metrics:        deps.Metrics,
		recorder:       deps.Recorder,
		notifier:       deps.Notifier,
		logger:         utils.ComponentLogger("caller"),
		waitMined:      bind.WaitMined,
	}
	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	}

	return c, nil
}

// Address returns the signing account
func (c *Caller) Address() common.Address {
	return c.signer.Address()
}

// Contract returns the target contract address
func (c *Caller) Contract() common.Address {
	return c.contract
}

// Method returns the invoked contract function name
func (c *Caller) Method() string {
	return c.method
}

// ConnectivityFailure is the log file line for an unreachable node
func ConnectivityFailure(err error) string {
	return fmt.Sprintf("Failed to connect to the blockchain - Error: %v", err)
}

// VerifyConnectivity reads the current block number. A failure is written to
// the console and the log file and returned.
func (c *Caller) VerifyConnectivity(ctx context.Context) (uint64, error) {
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordConnectivityCheck("error")
		}
		c.journal.Error(ConnectivityFailure(err))
		return 0, err
	}

	if c.metrics != nil {
		c.metrics.RecordConnectivityCheck("success")
		c.metrics.UpdateLatestBlock(blockNumber)
	}
	c.journal.Console(fmt.Sprintf("Connected to blockchain. Current block number: %d", blockNumber))
	return blockNumber, nil
}

// InvokeRollover submits one rollover transaction and waits for its receipt.
// Every failure, including a panic in a collaborator, ends this attempt only:
// it is logged and returned in the attempt, never propagated.
func (c *Caller) InvokeRollover(ctx context.Context, trigger models.Trigger) (attempt *models.Attempt) {
	attempt = &models.Attempt{
		ID:        utils.GenerateID(),
		Trigger:   trigger,
		Contract:  c.contract.Hex(),
		Method:    c.method,
		Status:    models.AttemptStatusPending,
		StartedAt: c.journal.Now(),
	}

	if c.metrics != nil {
		c.metrics.AttemptStarted()
		defer c.metrics.AttemptFinished()
	}

	defer func() {
		if r := recover(); r != nil {
			c.fail(attempt, fmt.Errorf("panic: %v", r))
		}
		c.finish(ctx, attempt)
	}()

	c.journal.Console(fmt.Sprintf("Calling %s()...", c.method))

	tx, err := c.send(ctx)
	if err != nil {
		c.fail(attempt, err)
		return attempt
	}
	attempt.TxHash = tx.Hash().Hex()
	c.journal.Console(fmt.Sprintf("Transaction sent: %s", tx.Hash().Hex()))

	receipt, err := c.wait(ctx, tx)
	if err != nil {
		c.fail(attempt, err)
		return attempt
	}

	now := c.journal.Now()
	attempt.Status = models.AttemptStatusSuccess
	attempt.TxHash = receipt.TxHash.Hex()
	attempt.GasUsed = receipt.GasUsed
	if receipt.BlockNumber != nil {
		attempt.BlockNumber = receipt.BlockNumber.Uint64()
	}
	attempt.FinishedAt = now
	attempt.Message = fmt.Sprintf("Success called at %s with tx id: %s", journal.FormatTimestamp(now), receipt.TxHash.Hex())
	c.journal.Info(attempt.Message)

	if c.metrics != nil {
		c.metrics.RecordGasUsed(receipt.GasUsed)
	}
	return attempt
}

// send builds, signs and submits the transaction
func (c *Caller) send(ctx context.Context) (*types.Transaction, error) {
	data, err := c.abi.Pack(c.method)
	if err != nil {
		return nil, fmt.Errorf("pack %s call: %w", c.method, err)
	}

	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return nil, err
	}

	from := c.signer.Address()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}

	gasLimit := c.gasLimit
	if gasLimit == 0 {
		estimated, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:     from,
			To:       &c.contract,
			GasPrice: gasPrice,
			Value:    big.NewInt(0),
			Data:     data,
		})
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
		gasLimit = estimated * 120 / 100
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := c.signer.SignTransaction(tx, chainID)
	if err != nil {
		return nil, err
	}

	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"tx_hash":   signedTx.Hash().Hex(),
		"nonce":     nonce,
		"gas_limit": gasLimit,
		"gas_price": gasPrice.String(),
	}).Debug("Transaction submitted")

	return signedTx, nil
}

// wait blocks until tx is mined and fails on a reverted receipt
func (c *Caller) wait(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if c.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.confirmTimeout)
		defer cancel()
	}

	receipt, err := c.waitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Transaction reverted", tx.Hash().Hex())
	}
	return receipt, nil
}

func (c *Caller) resolveChainID(ctx context.Context) (*big.Int, error) {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()

	if c.chainID != nil {
		return c.chainID, nil
	}

	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	c.chainID = chainID
	return chainID, nil
}

func (c *Caller) fail(attempt *models.Attempt, err error) {
	now := c.journal.Now()
	attempt.Status = models.AttemptStatusFailed
	attempt.Error = err.Error()
	attempt.FinishedAt = now
	attempt.Message = fmt.Sprintf("Failed at %s - Error: %v", journal.FormatTimestamp(now), err)
	c.journal.Error(attempt.Message)
}

// finish publishes the outcome. Storage and notification failures are logged only.
func (c *Caller) finish(ctx context.Context, attempt *models.Attempt) {
	if c.metrics != nil {
		c.metrics.RecordAttempt(string(attempt.Status), attempt.FinishedAt, attempt.Duration())
	}

	if c.recorder != nil {
		if err := c.recorder.SaveAttempt(context.WithoutCancel(ctx), attempt); err != nil {
			c.logger.WithError(err).WithField("attempt_id", attempt.ID).Warn("Failed to record attempt")
		}
	}

	if c.notifier != nil {
		c.notifier.Notify(context.WithoutCancel(ctx), attempt)
	}
}

// SetWaitFunc replaces the receipt wait. Intended for tests.
func (c *Caller) SetWaitFunc(fn WaitFunc) {
	c.waitMined = fn
}
