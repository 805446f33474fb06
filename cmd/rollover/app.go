// File: cmd/rollover/app.go
package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rollover-caller/internal/caller"
	"github.com/smartdevs17/rollover-caller/internal/config"
	"github.com/smartdevs17/rollover-caller/internal/connection"
	"github.com/smartdevs17/rollover-caller/internal/journal"
	"github.com/smartdevs17/rollover-caller/internal/metrics"
	"github.com/smartdevs17/rollover-caller/internal/models"
	"github.com/smartdevs17/rollover-caller/internal/notification"
	"github.com/smartdevs17/rollover-caller/internal/scheduler"
	"github.com/smartdevs17/rollover-caller/internal/server"
	"github.com/smartdevs17/rollover-caller/internal/storage"
	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

const (
	healthCheckInterval = 30 * time.Second
	cleanupInterval     = 24 * time.Hour
)

// ErrNotConnected is returned by Start when the startup connectivity check fails.
// Nothing is invoked or scheduled in that case.
var ErrNotConnected = errors.New("blockchain connectivity check failed")

// Application represents the main application
type Application struct {
	config       *config.Config
	logger       *logrus.Logger
	metrics      *metrics.Manager
	connection   *connection.ConnectionManager
	journal      *journal.Journal
	storage      storage.Storage
	notification *notification.Manager
	caller       *caller.Caller
	scheduler    *scheduler.Scheduler
	server       *server.HTTPServer

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	done    chan struct{}
	runErr  error
}

// NewApplication creates a new application instance. cfg must already be validated.
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		app.Stop()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Debug("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Debug("Initializing application components")

	app.metrics = metrics.NewManager()
	app.journal = journal.New(app.config.Rollover.LogFile)

	if err := app.initializeConnection(); err != nil {
		return fmt.Errorf("failed to initialize connection: %w", err)
	}

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initializeNotification(); err != nil {
		return fmt.Errorf("failed to initialize notification: %w", err)
	}

	if err := app.initializeCaller(); err != nil {
		return fmt.Errorf("failed to initialize caller: %w", err)
	}

	if err := app.initializeScheduler(); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Debug("All components initialized successfully")
	return nil
}

// initializeConnection creates the RPC client
func (app *Application) initializeConnection() error {
	app.connection = connection.NewConnectionManager(&connection.ConnectionConfig{
		RPCURL:         app.config.RPCURL,
		RequestTimeout: app.config.Rollover.RequestTimeout,
	}, app.metrics.GetPrometheusMetrics())

	if err := app.connection.Connect(app.ctx); err != nil {
		app.journal.Error(caller.ConnectivityFailure(err))
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// initializeStorage opens the attempt history database when one is configured
func (app *Application) initializeStorage() error {
	if !storage.Enabled(&app.config.Storage) {
		app.logger.Debug("Attempt history disabled")
		return nil
	}

	store, err := storage.NewStorage(&app.config.Storage, app.metrics.GetPrometheusMetrics())
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	app.storage = store

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.logger.WithField("type", app.config.Storage.Type).Info("Attempt history enabled")
	return nil
}

// initializeNotification builds the configured notification channels
func (app *Application) initializeNotification() error {
	manager, err := notification.NewManagerFromConfig(&app.config.Notifications, app.metrics.GetPrometheusMetrics())
	if err != nil {
		return err
	}
	app.notification = manager

	if manager.Enabled() {
		app.logger.WithField("channels", manager.Channels()).Info("Attempt notifications enabled")
	}
	return nil
}

// initializeCaller builds the rollover caller over the connection
func (app *Application) initializeCaller() error {
	deps := caller.Dependencies{
		Backend: app.connection.Backend(),
		Journal: app.journal,
		Metrics: app.metrics.GetPrometheusMetrics(),
	}
	if app.storage != nil {
		deps.Recorder = app.storage
	}
	if app.notification.Enabled() {
		deps.Notifier = app.notification
	}

	c, err := caller.New(&caller.Config{
		PrivateKey:      app.config.PrivateKey,
		ContractAddress: app.config.ContractAddress,
		Method:          app.config.Rollover.Method,
		ChainID:         app.config.Rollover.ChainID,
		GasLimit:        app.config.Rollover.GasLimit,
		ConfirmTimeout:  app.config.Rollover.ConfirmTimeout,
	}, deps)
	if err != nil {
		return err
	}
	app.caller = c

	app.logger.WithFields(logrus.Fields{
		"account":  c.Address().Hex(),
		"contract": c.Contract().Hex(),
		"method":   c.Method(),
	}).Info("Rollover caller ready")
	return nil
}

// initializeScheduler builds the scheduler that drives the caller
func (app *Application) initializeScheduler() error {
	job := func(ctx context.Context, trigger models.Trigger) {
		app.caller.InvokeRollover(ctx, trigger)
	}

	s, err := scheduler.New(scheduler.Config{
		Cron:     app.config.Schedule.Cron,
		Location: app.config.Location(),
		Overlap:  app.config.Schedule.Overlap,
	}, job, app.metrics.GetPrometheusMetrics())
	if err != nil {
		return err
	}
	app.scheduler = s
	return nil
}

// initializeServer builds the HTTP server when enabled
func (app *Application) initializeServer() error {
	if !app.config.Server.Enabled {
		return nil
	}

	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		WriteTimeout:  app.config.Server.WriteTimeout,
		EnableMetrics: app.config.Server.EnableMetrics,
		EnableHealth:  app.config.Server.EnableHealth,
		Version:       AppVersion,
	}

	srv, err := server.NewHTTPServer(serverCfg, server.Dependencies{
		Scheduler:    app.scheduler,
		Connection:   app.connection,
		Storage:      app.storage,
		Notification: app.notification,
		Metrics:      app.metrics,
	})
	if err != nil {
		return err
	}
	app.server = srv
	return nil
}

// VerifyConnectivity reads the current block number through the caller, so a
// failure reaches the log file, then refreshes the connection health.
func (app *Application) VerifyConnectivity() (uint64, error) {
	ctx := app.ctx
	if timeout := app.config.Rollover.RequestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	block, err := app.caller.VerifyConnectivity(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	app.connection.HealthCheck(ctx)
	return block, nil
}

// Start starts the HTTP server, checks connectivity and, if the node is
// reachable, invokes once and begins the schedule.
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":  AppVersion,
		"endpoint": connection.EndpointLabel(app.config.RPCURL),
		"log_file": app.journal.Path(),
	}).Info("Starting rollover caller")

	if app.server != nil {
		if err := app.server.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	if _, err := app.VerifyConnectivity(); err != nil {
		return err
	}

	app.wg.Add(1)
	go app.connectionMonitor()

	if app.storage != nil && app.config.Storage.RetentionDays > 0 {
		app.wg.Add(1)
		go app.retentionCleaner()
	}

	app.started = true
	go func() {
		defer close(app.done)
		if err := app.scheduler.Run(app.ctx); err != nil {
			app.logger.WithError(err).Error("Scheduler stopped")
			app.runErr = err
		}
	}()

	return nil
}

// Done is closed when the scheduler has stopped
func (app *Application) Done() <-chan struct{} {
	return app.done
}

// CallOnce checks connectivity and performs a single manual invocation
func (app *Application) CallOnce() (*models.Attempt, error) {
	if _, err := app.VerifyConnectivity(); err != nil {
		return nil, err
	}

	attempt := app.caller.InvokeRollover(app.ctx, models.TriggerManual)
	if !attempt.Succeeded() {
		return attempt, utils.NewAppError(utils.ErrCodeBlockchain, "Rollover failed", attempt.Error)
	}
	return attempt, nil
}

// connectionMonitor refreshes connection health for the API and metrics
func (app *Application) connectionMonitor() {
	defer app.wg.Done()

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	logger := utils.ComponentLogger("connection")
	wasHealthy := true

	for {
		select {
		case <-ticker.C:
			_, err := app.connection.HealthCheck(app.ctx)
			healthy := err == nil
			if healthy != wasHealthy {
				if healthy {
					logger.Info("RPC endpoint recovered")
				} else {
					logger.WithError(err).Warn("RPC endpoint health check failed")
				}
			}
			wasHealthy = healthy
		case <-app.ctx.Done():
			return
		}
	}
}

// retentionCleaner deletes attempts older than the retention period once a day
func (app *Application) retentionCleaner() {
	defer app.wg.Done()

	logger := utils.ComponentLogger("storage")
	cleanup := func() {
		deleted, err := app.storage.Cleanup(app.ctx, app.config.Storage.RetentionDays)
		if err != nil {
			logger.WithError(err).Warn("Attempt history cleanup failed")
			return
		}
		if deleted > 0 {
			logger.WithField("deleted", deleted).Info("Old attempts removed")
		}
	}

	cleanup()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleanup()
		case <-app.ctx.Done():
			return
		}
	}
}

// Stop stops the application gracefully. In-flight invocations are cancelled
// and waited for before storage and the connection close.
func (app *Application) Stop() error {
	if app.logger != nil {
		app.logger.Info("Stopping rollover caller")
	}

	app.cancel()

	if app.started {
		<-app.done
	}
	app.wg.Wait()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.notification != nil {
		if err := app.notification.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close notification channels")
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	if app.connection != nil {
		if err := app.connection.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close connection")
		}
	}

	return app.runErr
}
