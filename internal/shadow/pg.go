package shadow

import (
	"context"
	"fmt"
	"time"
	"trade_engine/internal/models"
	"trade_engine/pkg/db"

	"github.com/jackc/pgx/v5"
)

// PgStore persists shadow trades in postgres.
type PgStore struct {
	db *db.PgTxManager
}

func NewPgStore(txm *db.PgTxManager) *PgStore {
	return &PgStore{db: txm}
}

const shadowColumns = `id, opened_at, coin, signal, confidence, entry_price, size_usd,
	leverage, stop_loss, take_profit, exit_price, pnl_usd, pnl_pct, fees_usd,
	slippage_usd, duration_min, close_reason, account_equity, context_hash, trace`

func scanShadow(row pgx.Row) (*models.ShadowTrade, error) {
	var t models.ShadowTrade
	err := row.Scan(
		&t.ID, &t.OpenedAt, &t.Coin, &t.Signal, &t.Confidence, &t.EntryPrice, &t.SizeUSD,
		&t.Leverage, &t.StopLoss, &t.TakeProfit, &t.ExitPrice, &t.PnlUSD, &t.PnlPct,
		&t.FeesUSD, &t.SlippageUSD, &t.DurationMin, &t.CloseReason, &t.AccountEquity,
		&t.ContextHash, &t.Trace,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PgStore) Insert(ctx context.Context, t *models.ShadowTrade) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgStore.Insert: %w", err)
		}
	}()

	if t.OpenedAt.IsZero() {
		t.OpenedAt = time.Now().UTC()
	}
	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctxTx,
			`INSERT INTO shadow_trades (opened_at, coin, signal, confidence, entry_price,
				size_usd, leverage, stop_loss, take_profit, close_reason, account_equity,
				context_hash, trace)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', $10, $11, $12) RETURNING id`,
			t.OpenedAt, t.Coin, t.Signal, t.Confidence, t.EntryPrice,
			t.SizeUSD, t.Leverage, t.StopLoss, t.TakeProfit, t.AccountEquity,
			t.ContextHash, t.Trace,
		).Scan(&t.ID)
	})
}

func (s *PgStore) OpenByCoin(ctx context.Context, coin string) (out []*models.ShadowTrade, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgStore.OpenByCoin: %w", err)
		}
	}()

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		rows, qErr := tx.Query(ctxTx,
			`SELECT `+shadowColumns+` FROM shadow_trades WHERE coin = $1 AND pnl_usd IS NULL`, coin)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		for rows.Next() {
			t, sErr := scanShadow(rows)
			if sErr != nil {
				return sErr
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PgStore) CloseOutcome(ctx context.Context, t *models.ShadowTrade) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgStore.CloseOutcome: %w", err)
		}
	}()

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		// pnl_usd IS NULL guards the exactly-once close.
		tag, eErr := tx.Exec(ctxTx,
			`UPDATE shadow_trades SET exit_price = $2, pnl_usd = $3, pnl_pct = $4,
				fees_usd = $5, slippage_usd = $6, duration_min = $7, close_reason = $8
			 WHERE id = $1 AND pnl_usd IS NULL`,
			t.ID, t.ExitPrice, t.PnlUSD, t.PnlPct,
			t.FeesUSD, t.SlippageUSD, t.DurationMin, t.CloseReason,
		)
		if eErr != nil {
			return eErr
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("shadow trade %d already closed", t.ID)
		}
		return nil
	})
}

func (s *PgStore) OpenCount(ctx context.Context) (n int, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgStore.OpenCount: %w", err)
		}
	}()

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctxTx,
			`SELECT COUNT(*) FROM shadow_trades WHERE pnl_usd IS NULL`).Scan(&n)
	})
	return n, err
}

func (s *PgStore) LastClosed(ctx context.Context) (t *models.ShadowTrade, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgStore.LastClosed: %w", err)
		}
	}()

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctxTx,
			`SELECT `+shadowColumns+` FROM shadow_trades WHERE pnl_usd IS NOT NULL ORDER BY id DESC LIMIT 1`)
		var sErr error
		t, sErr = scanShadow(row)
		if sErr == pgx.ErrNoRows {
			t = nil
			return nil
		}
		return sErr
	})
	return t, err
}

// PgLedger is the postgres shadow account: a single row with id = 1.
type PgLedger struct {
	db *db.PgTxManager
}

func NewPgLedger(txm *db.PgTxManager) *PgLedger {
	return &PgLedger{db: txm}
}

func scanAccount(row pgx.Row) (*models.ShadowAccount, error) {
	var a models.ShadowAccount
	err := row.Scan(
		&a.ID, &a.CreatedAt, &a.UpdatedAt, &a.InitialEquity, &a.CurrentEquity,
		&a.CumulativePnl, &a.CumulativeFees, &a.CumulativeSlippage,
		&a.TotalTrades, &a.WinningTrades, &a.LosingTrades,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const accountColumns = `id, created_at, updated_at, initial_equity, current_equity,
	cumulative_pnl, cumulative_fees, cumulative_slippage,
	total_trades, winning_trades, losing_trades`

func (l *PgLedger) GetOrCreate(ctx context.Context, seedEquity float64) (a *models.ShadowAccount, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgLedger.GetOrCreate: %w", err)
		}
	}()

	err = l.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctxTx, `SELECT `+accountColumns+` FROM shadow_account WHERE id = 1`)
		var sErr error
		a, sErr = scanAccount(row)
		if sErr == nil {
			return nil
		}
		if sErr != pgx.ErrNoRows {
			return sErr
		}
		if seedEquity <= 0 {
			return fmt.Errorf("refusing to seed with equity %.2f", seedEquity)
		}
		now := time.Now().UTC()
		_, sErr = tx.Exec(ctxTx,
			`INSERT INTO shadow_account (id, created_at, updated_at, initial_equity, current_equity)
			 VALUES (1, $1, $1, $2, $2) ON CONFLICT (id) DO NOTHING`,
			now, seedEquity,
		)
		if sErr != nil {
			return sErr
		}
		a, sErr = scanAccount(tx.QueryRow(ctxTx, `SELECT `+accountColumns+` FROM shadow_account WHERE id = 1`))
		return sErr
	})
	return a, err
}

func (l *PgLedger) ApplyClose(ctx context.Context, grossPnl, fees, slippage float64, isWin bool) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgLedger.ApplyClose: %w", err)
		}
	}()

	net := grossPnl - fees - slippage
	win, loss := 0, 1
	if isWin {
		win, loss = 1, 0
	}
	return l.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		tag, eErr := tx.Exec(ctxTx,
			`UPDATE shadow_account SET
				current_equity = current_equity + $1,
				cumulative_pnl = cumulative_pnl + $1,
				cumulative_fees = cumulative_fees + $2,
				cumulative_slippage = cumulative_slippage + $3,
				total_trades = total_trades + 1,
				winning_trades = winning_trades + $4,
				losing_trades = losing_trades + $5,
				updated_at = $6
			 WHERE id = 1`,
			net, fees, slippage, win, loss, time.Now().UTC(),
		)
		if eErr != nil {
			return eErr
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("account not seeded")
		}
		return nil
	})
}

func (l *PgLedger) Stats(ctx context.Context) (stats models.ShadowStats, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgLedger.Stats: %w", err)
		}
	}()

	err = l.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		a, sErr := scanAccount(tx.QueryRow(ctxTx, `SELECT `+accountColumns+` FROM shadow_account WHERE id = 1`))
		if sErr == pgx.ErrNoRows {
			return nil
		}
		if sErr != nil {
			return sErr
		}
		stats = deriveStats(a)
		return nil
	})
	return stats, err
}
