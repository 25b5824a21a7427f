package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
	"trade_engine/internal/models"

	"github.com/bytedance/sonic"
)

// Source produces the upstream verdicts for one cycle as raw text. The text
// is whatever the analysis side emitted; SignalValidator owns turning it into
// typed values.
type Source interface {
	AnalystSignal(ctx context.Context, snap models.MarketSnapshot, account models.AccountState) (string, error)
	RiskVerdict(ctx context.Context, sig models.TradeSignal, account models.AccountState) (string, error)
}

// HTTPSource asks the analysis sidecar over HTTP. Both endpoints return the
// model output verbatim, usually prose with an embedded JSON block.
type HTTPSource struct {
	baseURL string
	http    *http.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPSource{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) AnalystSignal(ctx context.Context, snap models.MarketSnapshot, account models.AccountState) (string, error) {
	return s.call(ctx, "/agents/analyst", struct {
		Snapshot models.MarketSnapshot `json:"snapshot"`
		Account  models.AccountState   `json:"account"`
	}{snap, account})
}

func (s *HTTPSource) RiskVerdict(ctx context.Context, sig models.TradeSignal, account models.AccountState) (string, error) {
	return s.call(ctx, "/agents/risk", struct {
		Signal  models.TradeSignal  `json:"signal"`
		Account models.AccountState `json:"account"`
	}{sig, account})
}

func (s *HTTPSource) call(ctx context.Context, path string, payload any) (string, error) {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}

	var wrapped struct {
		Output string `json:"output"`
	}
	if err := sonic.Unmarshal(data, &wrapped); err == nil && wrapped.Output != "" {
		return wrapped.Output, nil
	}
	return string(data), nil
}
