package main

import (
	"context"
	"log"
	"os"
	"trade_engine/internal/modules/config"
	enginemod "trade_engine/internal/modules/engine"
	"trade_engine/internal/modules/feed"
	"trade_engine/internal/modules/metrics"
	"trade_engine/internal/modules/postgres"
	"trade_engine/pkg/logger"

	"go.uber.org/fx"
)

func main() {
	logger.SetServiceName("trade-engine")
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}

	paper := os.Getenv("PAPER") == "1" || os.Getenv("PAPER") == "true"

	opts := []fx.Option{
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		metrics.Module(),
		feed.Module(),
		enginemod.Module(),
	}
	if paper {
		opts = append(opts, enginemod.PaperStores())
	} else {
		opts = append(opts, postgres.Module(), enginemod.PgStores())
	}

	app := fx.New(opts...)
	app.Run()
}
