package store

import (
	"context"
	"fmt"
	"sync"
	"time"
	"trade_engine/internal/models"
	"trade_engine/pkg/db"

	"github.com/jackc/pgx/v5"
)

// Inference is the append-only per-cycle decision log.
type Inference interface {
	Record(ctx context.Context, rec *models.InferenceRecord) error
	RecentRecords(ctx context.Context, limit int) ([]*models.InferenceRecord, error)
}

type MemoryInference struct {
	mu     sync.RWMutex
	nextID int64
	rows   []*models.InferenceRecord
}

func NewMemoryInference() *MemoryInference { return &MemoryInference{} }

func (m *MemoryInference) Record(ctx context.Context, rec *models.InferenceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	cp := *rec
	cp.ID = m.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.rows = append(m.rows, &cp)
	rec.ID = cp.ID
	return nil
}

func (m *MemoryInference) RecentRecords(ctx context.Context, limit int) ([]*models.InferenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.rows)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]*models.InferenceRecord, 0, n)
	for i := len(m.rows) - 1; i >= 0 && len(out) < n; i-- {
		cp := *m.rows[i]
		out = append(out, &cp)
	}
	return out, nil
}

// PgInference stores records in the inference_log table.
type PgInference struct {
	db *db.PgTxManager
}

func NewPgInference(txm *db.PgTxManager) *PgInference {
	return &PgInference{db: txm}
}

const inferenceColumns = `id, cycle_number, created_at, coin, signal, confidence,
	risk_action, action, reasoning, equity, last_price`

func (s *PgInference) Record(ctx context.Context, rec *models.InferenceRecord) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgInference.Record: %w", err)
		}
	}()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctxTx,
			`INSERT INTO inference_log
				(cycle_number, created_at, coin, signal, confidence, risk_action, action, reasoning, equity, last_price)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING id`,
			rec.CycleNumber, rec.CreatedAt, rec.Coin, rec.Signal, rec.Confidence,
			rec.RiskAction, rec.Action, rec.Reasoning, rec.Equity, rec.LastPrice,
		).Scan(&rec.ID)
	})
}

func (s *PgInference) RecentRecords(ctx context.Context, limit int) (out []*models.InferenceRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgInference.RecentRecords: %w", err)
		}
	}()

	if limit <= 0 {
		limit = 50
	}
	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		rows, qErr := tx.Query(ctxTx,
			`SELECT `+inferenceColumns+` FROM inference_log ORDER BY id DESC LIMIT $1`, limit)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()

		for rows.Next() {
			var r models.InferenceRecord
			if sErr := rows.Scan(
				&r.ID, &r.CycleNumber, &r.CreatedAt, &r.Coin, &r.Signal, &r.Confidence,
				&r.RiskAction, &r.Action, &r.Reasoning, &r.Equity, &r.LastPrice,
			); sErr != nil {
				return sErr
			}
			out = append(out, &r)
		}
		return rows.Err()
	})
	return out, err
}
