// Package app wires configuration into the gateway's components. Every
// entrypoint builds the same graph through New.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/facebookgo/clock"
	"gorm.io/gorm"

	"github.com/texitpay/paygate/internal/chain"
	"github.com/texitpay/paygate/internal/config"
	"github.com/texitpay/paygate/internal/database"
	"github.com/texitpay/paygate/internal/ledger"
	"github.com/texitpay/paygate/internal/logger"
	"github.com/texitpay/paygate/internal/payment"
	"github.com/texitpay/paygate/internal/prices"
	"github.com/texitpay/paygate/internal/queue"
	"github.com/texitpay/paygate/internal/webhook"
)

// LoadConfig reads configuration, resolves secrets and installs the default logger
func LoadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	SetupLogging(cfg)

	if cfg.Secrets.Prefix != "" {
		sm, err := config.NewSecretsManager(cfg.AWS.Region)
		if err != nil {
			return nil, err
		}
		if err := config.ResolveSecrets(ctx, cfg, sm); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// SetupLogging installs the logger cfg asks for
func SetupLogging(cfg *config.Config) {
	level := logger.ParseLevel(cfg.Logging.Level)
	if strings.EqualFold(cfg.Logging.Format, "console") {
		logger.SetDefault(logger.NewConsole(level))
		return
	}
	logger.SetDefault(logger.New(level))
}

// App holds the wired components
type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Stores   *database.Stores
	Ledger   *ledger.Ledger
	Chain    *chain.Client
	Oracle   *prices.Oracle
	Webhooks *webhook.Dispatcher
	Payments *payment.Service
	Monitor  *payment.Reconciler
}

// New connects to every backing service named in cfg
func New(cfg *config.Config) (*App, error) {
	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN, logger.ParseLevel(cfg.Logging.Level) == logger.DEBUG)
	if err != nil {
		return nil, err
	}
	clk := clock.New()
	stores := database.NewStores(db)

	var rates prices.RateStore
	if cfg.Database.RateTableName != "" {
		rc, err := database.NewRateClient(cfg.AWS.Region, cfg.Database.RateTableName, cfg.Database.Endpoint)
		if err != nil {
			return nil, err
		}
		rates = rc
	}
	oracle := prices.NewOracle(prices.Options{
		BaseURL:  cfg.Prices.BaseURL,
		APIKey:   cfg.Prices.APIKey,
		Timeout:  cfg.Prices.Timeout,
		CacheTTL: cfg.Prices.CacheTTL,
	}, clk, rates)

	var events payment.EventPublisher
	if cfg.Queue.EventQueueURL != "" {
		qc, err := queue.NewClient(cfg.AWS.Region, cfg.Queue.Endpoint)
		if err != nil {
			return nil, err
		}
		events = queue.NewPublisher(qc, cfg.Queue.EventQueueURL)
	}

	explorer := chain.NewClient(cfg.Explorer.BaseURL, cfg.Explorer.Timeout, cfg.Explorer.MaxPages)
	dispatcher := webhook.NewDispatcher(stores.Merchants, stores.Webhooks, cfg.Webhook.Timeout, clk)
	l := ledger.New(db, clk)
	monitor := payment.NewReconciler(stores, l, explorer, dispatcher, events, clk, payment.Options{
		Network:           cfg.Monitor.Network,
		PollInterval:      cfg.Monitor.PollInterval,
		RetryInterval:     cfg.Monitor.RetryInterval,
		ConfirmationGrace: cfg.Monitor.ConfirmationGrace,
		PageSize:          cfg.Monitor.ActivePageSize,
	})

	a := &App{
		Config:   cfg,
		DB:       db,
		Stores:   stores,
		Ledger:   l,
		Chain:    explorer,
		Oracle:   oracle,
		Webhooks: dispatcher,
		Payments: payment.NewService(stores, oracle, dispatcher, events, cfg.Chains, clk),
		Monitor:  monitor,
	}

	logger.Info("Gateway initialized", logger.Fields{
		"db_driver":   cfg.Database.Driver,
		"network":     cfg.Monitor.Network,
		"explorer":    cfg.Explorer.BaseURL,
		"rate_cache":  rates != nil,
		"event_queue": events != nil,
		"chains":      len(cfg.Chains),
	})
	return a, nil
}

// Ping checks the relational store
func (a *App) Ping(ctx context.Context) error {
	return database.Ping(ctx, a.DB)
}

// Close releases the database connection
func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return sqlDB.Close()
}
