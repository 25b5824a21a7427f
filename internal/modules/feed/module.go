package feed

import (
	"context"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/modules/feed/service"

	"go.uber.org/fx"
)

// Module runs the mark-price streamer. When the feed is disabled the client is
// still provided so consumers get empty snapshots instead of nil checks.
func Module() fx.Option {
	return fx.Module("feed",
		fx.Provide(
			func(cfg *config.Config) *service.Client {
				return service.NewClient(cfg.Feed.URL)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, c *service.Client) {
			if !cfg.Feed.Enabled {
				return
			}
			streamCtx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go c.Start(streamCtx)
					return nil
				},
				OnStop: func(ctx context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
