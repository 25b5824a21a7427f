package store

import (
	"context"
	"fmt"
	"time"
	"trade_engine/internal/models"
	"trade_engine/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
)

// Pg implements Positions on postgres through the transaction manager.
type Pg struct {
	db *db.PgTxManager
}

func NewPg(txm *db.PgTxManager) *Pg {
	return &Pg{db: txm}
}

const tradeColumns = `id, coin, direction, entry_price, size_usd, leverage,
	opened_at, closed_at, exit_price, pnl_usd, pnl_pct, close_reason, reasoning`

func scanTrade(row pgx.Row) (*models.Trade, error) {
	var t models.Trade
	err := row.Scan(
		&t.ID, &t.Coin, &t.Direction, &t.EntryPrice, &t.SizeUSD, &t.Leverage,
		&t.OpenedAt, &t.ClosedAt, &t.ExitPrice, &t.PnlUSD, &t.PnlPct,
		&t.CloseReason, &t.Reasoning,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Pg) Upsert(ctx context.Context, p UpsertParams) (t *models.Trade, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Pg.Upsert: %w", err)
		}
	}()

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		existing, lErr := openTradeTx(ctxTx, tx, p.Coin)
		if lErr != nil {
			return lErr
		}
		if existing != nil {
			t = existing
			return refreshPlanTx(ctxTx, tx, existing, p)
		}
		t, lErr = insertTradeTx(ctxTx, tx, p)
		return lErr
	})
	return t, err
}

func openTradeTx(ctx context.Context, tx pgx.Tx, coin string) (*models.Trade, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE coin = $1 AND closed_at IS NULL`, coin)
	t, err := scanTrade(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func insertTradeTx(ctx context.Context, tx pgx.Tx, p UpsertParams) (*models.Trade, error) {
	t := &models.Trade{
		Coin:       p.Coin,
		Direction:  p.Direction,
		EntryPrice: p.EntryPrice,
		SizeUSD:    p.SizeUSD,
		Leverage:   p.Leverage,
		OpenedAt:   time.Now().UTC(),
		Reasoning:  p.Reasoning,
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO trades (coin, direction, entry_price, size_usd, leverage, opened_at, reasoning)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		t.Coin, t.Direction, t.EntryPrice, t.SizeUSD, t.Leverage, t.OpenedAt, t.Reasoning,
	).Scan(&t.ID)
	if err != nil {
		return nil, err
	}

	slPx, tpPx := planPrices(t.EntryPrice, p.StopLossPct, p.TakeProfitPct, t.Direction)
	conds, err := sonic.Marshal(p.InvalidationConditions)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO exit_plans (trade_id, stop_loss_pct, take_profit_pct,
			stop_loss_price, take_profit_price, invalidation_conditions, status, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, p.StopLossPct, p.TakeProfitPct, slPx, tpPx, conds, models.PlanActive, time.Now().UTC(),
	)
	return t, err
}

// refreshPlanTx only touches the plan: the open trade's size and leverage stay
// as first persisted.
func refreshPlanTx(ctx context.Context, tx pgx.Tx, t *models.Trade, p UpsertParams) error {
	slPx, tpPx := planPrices(t.EntryPrice, p.StopLossPct, p.TakeProfitPct, t.Direction)
	conds, err := sonic.Marshal(p.InvalidationConditions)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE exit_plans SET
			stop_loss_pct = CASE WHEN $2 > 0 THEN $2 ELSE stop_loss_pct END,
			take_profit_pct = CASE WHEN $3 > 0 THEN $3 ELSE take_profit_pct END,
			stop_loss_price = CASE WHEN $4 > 0 THEN $4 ELSE stop_loss_price END,
			take_profit_price = CASE WHEN $5 > 0 THEN $5 ELSE take_profit_price END,
			invalidation_conditions = CASE WHEN $6::jsonb <> '[]'::jsonb THEN $6 ELSE invalidation_conditions END,
			updated_at = $7
		 WHERE trade_id = $1`,
		t.ID, p.StopLossPct, p.TakeProfitPct, slPx, tpPx, conds, time.Now().UTC(),
	)
	return err
}

func (s *Pg) Close(ctx context.Context, coin string, exitPrice float64, reason string) (t *models.Trade, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Pg.Close: %w", err)
		}
	}()

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		existing, lErr := openTradeTx(ctxTx, tx, coin)
		if lErr != nil {
			return lErr
		}
		if existing == nil {
			return nil
		}
		closeTrade(existing, exitPrice, reason, time.Now().UTC())
		_, lErr = tx.Exec(ctxTx,
			`UPDATE trades SET closed_at = $2, exit_price = $3, pnl_usd = $4, pnl_pct = $5, close_reason = $6
			 WHERE id = $1`,
			existing.ID, existing.ClosedAt, existing.ExitPrice, existing.PnlUSD, existing.PnlPct, existing.CloseReason,
		)
		t = existing
		return lErr
	})
	return t, err
}

func (s *Pg) OpenTrade(ctx context.Context, coin string) (t *models.Trade, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Pg.OpenTrade: %w", err)
		}
	}()

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		t, err = openTradeTx(ctxTx, tx, coin)
		return err
	})
	return t, err
}

func (s *Pg) Open(ctx context.Context) (out []*models.Trade, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Pg.Open: %w", err)
		}
	}()

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		rows, qErr := tx.Query(ctxTx,
			`SELECT `+tradeColumns+` FROM trades WHERE closed_at IS NULL ORDER BY id`)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		for rows.Next() {
			t, sErr := scanTrade(rows)
			if sErr != nil {
				return sErr
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Pg) Recent(ctx context.Context, limit int) (out []*models.Trade, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Pg.Recent: %w", err)
		}
	}()

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		rows, qErr := tx.Query(ctxTx,
			`SELECT `+tradeColumns+` FROM trades ORDER BY opened_at DESC LIMIT $1`, limit)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		for rows.Next() {
			t, sErr := scanTrade(rows)
			if sErr != nil {
				return sErr
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Pg) Plan(ctx context.Context, tradeID int64) (plan *models.ExitPlan, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Pg.Plan: %w", err)
		}
	}()

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		var conds []byte
		p := models.ExitPlan{}
		qErr := tx.QueryRow(ctxTx,
			`SELECT id, trade_id, stop_loss_pct, take_profit_pct, stop_loss_price,
				take_profit_price, invalidation_conditions, status, triggered_at,
				triggered_reason, updated_at
			 FROM exit_plans WHERE trade_id = $1`, tradeID,
		).Scan(&p.ID, &p.TradeID, &p.StopLossPct, &p.TakeProfitPct, &p.StopLossPrice,
			&p.TakeProfitPrice, &conds, &p.Status, &p.TriggeredAt,
			&p.TriggeredReason, &p.UpdatedAt)
		if qErr == pgx.ErrNoRows {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		if len(conds) > 0 {
			if uErr := sonic.Unmarshal(conds, &p.InvalidationConditions); uErr != nil {
				return uErr
			}
		}
		plan = &p
		return nil
	})
	return plan, err
}

func (s *Pg) InvalidatePlan(ctx context.Context, tradeID int64, reason string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Pg.InvalidatePlan: %w", err)
		}
	}()

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		tag, eErr := tx.Exec(ctxTx,
			`UPDATE exit_plans SET status = $2, triggered_at = $3, triggered_reason = $4
			 WHERE trade_id = $1`,
			tradeID, models.PlanInvalidated, time.Now().UTC(), reason,
		)
		if eErr != nil {
			return eErr
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("no plan for trade %d", tradeID)
		}
		return nil
	})
}

func (s *Pg) Performance(ctx context.Context, window time.Duration) (perf models.Performance, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Pg.Performance: %w", err)
		}
	}()

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		cutoff := time.Now().UTC().Add(-window)
		return tx.QueryRow(ctxTx,
			`SELECT COUNT(*),
				COALESCE(SUM(pnl_usd), 0),
				COUNT(*) FILTER (WHERE pnl_pct > 0)
			 FROM trades WHERE closed_at IS NOT NULL AND closed_at >= $1`, cutoff,
		).Scan(&perf.TotalTrades, &perf.TotalPnlUSD, &perf.Wins)
	})
	if err != nil {
		return perf, err
	}
	perf.Losses = perf.TotalTrades - perf.Wins
	if perf.TotalTrades > 0 {
		perf.WinRate = float64(perf.Wins) / float64(perf.TotalTrades) * 100
	}
	return perf, nil
}
