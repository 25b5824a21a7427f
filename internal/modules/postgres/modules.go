package postgres

import (
	"context"
	"fmt"
	"trade_engine/internal/modules/config"
	"trade_engine/pkg/db"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(ctx context.Context, cfg *config.Config, lc fx.Lifecycle) (*db.PgTxManager, error) {
				pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB})
				if err != nil {
					return nil, fmt.Errorf("failed to create pool: %w", err)
				}
				if err := pool.Ping(ctx); err != nil {
					return nil, err
				}

				txm := db.NewPgTxManager(pool)
				lc.Append(fx.Hook{
					OnStop: func(ctx context.Context) error {
						txm.Close()
						return nil
					},
				})
				return txm, nil
			},
		),
	)
}
