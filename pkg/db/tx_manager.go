package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxManager is what the store layer depends on for persistence.
type TxManager interface {
	RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx pgx.Tx) error) error
}
