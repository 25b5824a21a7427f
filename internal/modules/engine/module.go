package engine

import (
	"context"
	"trade_engine/internal/engine"
	"trade_engine/internal/exchange"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/modules/engine/service"
	"trade_engine/internal/modules/metrics"
	"trade_engine/internal/notify"
	"trade_engine/internal/precision"
	"trade_engine/internal/shadow"
	"trade_engine/internal/store"
	"trade_engine/pkg/db"
	"trade_engine/pkg/tracing"

	"go.uber.org/fx"
)

const paperStartEquity = 1000

// PgStores wires the durable implementations plus the live exchange bridge.
func PgStores() fx.Option {
	return fx.Module("stores",
		fx.Provide(
			func(txm *db.PgTxManager) store.Positions { return store.NewPg(txm) },
			func(txm *db.PgTxManager) store.Inference { return store.NewPgInference(txm) },
			func(txm *db.PgTxManager) shadow.Store { return shadow.NewPgStore(txm) },
			func(txm *db.PgTxManager) shadow.Ledger { return shadow.NewPgLedger(txm) },
			func(cfg *config.Config) (exchange.Capability, precision.MetaSource) {
				b := exchange.NewBridge(cfg.Bridge.URL)
				return b, b
			},
		),
	)
}

// PaperStores wires the in-memory implementations and the simulated exchange.
func PaperStores() fx.Option {
	return fx.Module("stores",
		fx.Provide(
			func() store.Positions { return store.NewMemory() },
			func() store.Inference { return store.NewMemoryInference() },
			func() shadow.Store { return shadow.NewMemoryStore() },
			func() shadow.Ledger { return shadow.NewMemoryLedger() },
			func() (exchange.Capability, precision.MetaSource) {
				return exchange.NewPaper(paperStartEquity), nil
			},
		),
	)
}

// shadowObserver fans shadow events out to metrics and the notifier.
type shadowObserver struct {
	events *notify.ShadowEvents
}

func (o shadowObserver) ShadowOpened(t *models.ShadowTrade, openCount int) {
	o.events.ShadowOpened(t, openCount)
}

func (o shadowObserver) ShadowClosed(t *models.ShadowTrade, stats models.ShadowStats) {
	metrics.ObserveShadowClose(t)
	metrics.SetShadowEquity(stats.CurrentEquity)
	o.events.ShadowClosed(t, stats)
}

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			precision.New,
			func(cfg *config.Config, pos store.Positions) (notify.Notifier, error) {
				if cfg.Telegram.Token == "" {
					return notify.NewStdout(), nil
				}
				return notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, pos)
			},
			func(cfg *config.Config) engine.Source {
				return engine.NewHTTPSource(cfg.Agents.URL, cfg.Agents.Timeout)
			},
			func(cfg *config.Config, cap exchange.Capability, pos store.Positions, norm *precision.Normalizer) *engine.Coordinator {
				return engine.NewCoordinator(cap, pos, norm, cfg.AutoApproveUSD)
			},
			func(cfg *config.Config, st shadow.Store, ledger shadow.Ledger, n notify.Notifier) *shadow.Simulator {
				obs := shadowObserver{events: notify.NewShadowEvents(n)}
				return shadow.NewSimulator(st, ledger, obs, shadow.Config{
					FeeRate:      cfg.Shadow.FeeRate,
					SlippageRate: cfg.Shadow.SlippageRate,
				})
			},
			service.NewRunner,
		),
		fx.Invoke(initTracer),
		fx.Invoke(loadMeta),
		fx.Invoke(startNotifier),
		fx.Invoke(startRunner),
	)
}

func initTracer(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Jaeger.Host == "" {
		return nil
	}
	_, closeTracer, err := tracing.InitTracer(tracing.Config{
		Service: "trade-engine",
		Host:    cfg.Jaeger.Host,
		Port:    cfg.Jaeger.Port,
	})
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			closeTracer()
			return nil
		},
	})
	return nil
}

func loadMeta(lc fx.Lifecycle, norm *precision.Normalizer, meta precision.MetaSource) {
	if meta == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			norm.Load(ctx, meta)
			return nil
		},
	})
}

func startNotifier(lc fx.Lifecycle, n notify.Notifier) {
	tg, ok := n.(*notify.Telegram)
	if !ok {
		return
	}
	pollCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return tg.Start(pollCtx)
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}

func startRunner(lc fx.Lifecycle, r *service.Runner) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go r.Run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}
