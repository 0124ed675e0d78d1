package services

import (
	"context"

	"coinsync/config"
	"coinsync/utils"

	"gorm.io/gorm"
)

// Engine wires every coinsync component. Build one per process with
// NewEngine and pass it down; nothing in this package is global.
type Engine struct {
	Config *config.Config
	DB     *gorm.DB
	Client RewardsAPI
	Bus    *EventBus

	Mapper     *PlayerMapper
	TeamAdmin  *TeamAdmin
	Calculator *CoinsCalculator
	Balances   *BalanceProxy
	Metadata   *MetadataProxy
	Awards     *AwardPipeline
	Strategy   *CollectionStrategy
	Webhooks   *WebhookProcessor
	PushQueue  *PushQueue
	Exporter   *LedgerExporter

	Notifications *NotificationService
}

// NewEngine builds the engine. client may be nil when the remote service is
// not configured; remote-dependent operations then degrade or refuse.
func NewEngine(cfg *config.Config, db *gorm.DB, client RewardsAPI, bus *EventBus) *Engine {
	if bus == nil {
		bus = NewEventBus()
	}
	e := &Engine{Config: cfg, DB: db, Client: client, Bus: bus}

	e.Mapper = NewPlayerMapper(db, client, cfg.AccountID)
	e.TeamAdmin = NewTeamAdmin(db, cfg.AccountID)
	e.Calculator = NewCoinsCalculator(db, utils.NewMemoryCache(utils.NoExpiration))
	e.Balances = &BalanceProxy{
		Config:  cfg,
		Teams:   e.Teams,
		Players: e.Mapper,
		Client:  client,
		Cache:   utils.NewMemoryCache(cfg.BalanceTTL),
	}
	e.Metadata = &MetadataProxy{
		Config:  cfg,
		Teams:   e.Teams,
		Players: e.Mapper,
		Client:  client,
		Cache:   utils.NewMemoryCache(cfg.MetadataTTL),
	}
	e.Awards = &AwardPipeline{
		Config:   cfg,
		DB:       db,
		Client:   client,
		Balances: e.Balances,
		Bus:      bus,
	}
	e.Strategy = &CollectionStrategy{
		Config:     cfg,
		DB:         db,
		Calculator: e.Calculator,
		Awards:     e.Awards,
	}
	e.Webhooks = &WebhookProcessor{
		Config:   cfg,
		DB:       db,
		Players:  e.Mapper,
		Balances: e.Balances,
		Metadata: e.Metadata,
	}
	e.PushQueue = NewPushQueue(cfg, db, client)
	e.Exporter = &LedgerExporter{Config: cfg, DB: db}
	e.Notifications = NewNotificationService(db)

	e.Strategy.Register(bus)
	return e
}

// Teams returns a fresh request-scoped team resolver.
func (e *Engine) Teams() *TeamResolver {
	return NewTeamResolver(e.DB, e.Config.AccountID, e.Config.UseGroupings)
}

// PurgeCaches drops every cached rule set, balance and metadata value.
func (e *Engine) PurgeCaches() {
	e.Calculator.PurgeCache()
	e.Balances.InvalidateAll()
	e.Metadata.Purge()
}

// ForgetUser erases what coinsync keeps about a user apart from the ledger.
func (e *Engine) ForgetUser(ctx context.Context, userID uint) error {
	if err := e.Mapper.RemoveUserMapping(ctx, userID); err != nil {
		return err
	}
	if err := e.PushQueue.Forget(ctx, userID); err != nil {
		return err
	}
	e.Balances.Invalidate(userID)
	e.Metadata.Invalidate(userID)
	return nil
}
