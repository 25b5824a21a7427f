package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
	"trade_engine/internal/models"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Bridge talks to the execution sidecar over HTTP. The sidecar owns the raw
// exchange RPC surface; this client only moves typed requests and raw result
// strings across the boundary.
type Bridge struct {
	baseURL string
	http    *http.Client
}

func NewBridge(baseURL string) *Bridge {
	return &Bridge{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (b *Bridge) PlaceEntry(ctx context.Context, req models.OrderRequest) (string, error) {
	payload := struct {
		models.OrderRequest
		ClientOrderID string `json:"cloid"`
	}{OrderRequest: req, ClientOrderID: uuid.New().String()}

	return b.call(ctx, "/tools/place_smart_order", payload)
}

func (b *Bridge) ClosePosition(ctx context.Context, coin string, fraction float64) (string, error) {
	return b.call(ctx, "/tools/close_position", map[string]any{
		"coin":       coin,
		"percentage": fraction,
	})
}

func (b *Bridge) CloseAllPositions(ctx context.Context) (string, error) {
	return b.call(ctx, "/tools/close_all_positions", map[string]any{})
}

func (b *Bridge) call(ctx context.Context, path string, payload any) (string, error) {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
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

	// The sidecar wraps results as {"result": "..."} but older builds return
	// the raw string; accept both.
	var wrapped struct {
		Result string `json:"result"`
	}
	if err := sonic.Unmarshal(data, &wrapped); err == nil && wrapped.Result != "" {
		return wrapped.Result, nil
	}
	return string(data), nil
}

func (b *Bridge) AccountState(ctx context.Context) (models.AccountState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/tools/get_account_info", nil)
	if err != nil {
		return models.AccountState{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return models.AccountState{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return models.AccountState{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}

	var payload struct {
		MarginSummary struct {
			AccountValue    float64 `json:"accountValue,string"`
			TotalMarginUsed float64 `json:"totalMarginUsed,string"`
		} `json:"marginSummary"`
		Withdrawable   float64 `json:"withdrawable,string"`
		AssetPositions []struct {
			Position struct {
				Coin          string  `json:"coin"`
				Szi           float64 `json:"szi,string"`
				EntryPx       float64 `json:"entryPx,string"`
				UnrealizedPnl float64 `json:"unrealizedPnl,string"`
			} `json:"position"`
		} `json:"assetPositions"`
		OpenOrders []string `json:"openOrders"`
	}
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.AccountState{}, fmt.Errorf("decode: %w", err)
	}

	state := models.AccountState{
		Equity:       payload.MarginSummary.AccountValue,
		MarginUsed:   payload.MarginSummary.TotalMarginUsed,
		Withdrawable: payload.Withdrawable,
		OpenOrders:   payload.OpenOrders,
	}
	if state.Equity > 0 {
		state.MarginUsagePct = state.MarginUsed / state.Equity * 100
	}
	for _, p := range payload.AssetPositions {
		pos := p.Position
		if pos.Szi == 0 {
			continue
		}
		dir := models.DirLong
		if pos.Szi < 0 {
			dir = models.DirShort
		}
		state.OpenPositions = append(state.OpenPositions, models.OpenPosition{
			Coin:          pos.Coin,
			Direction:     dir,
			Size:          pos.Szi,
			EntryPrice:    pos.EntryPx,
			UnrealizedPnl: pos.UnrealizedPnl,
		})
	}
	return state, nil
}

// InstrumentMeta fetches the perp universe for the precision cache.
func (b *Bridge) InstrumentMeta(ctx context.Context) ([]models.Instrument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/info/meta", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}

	var payload struct {
		Universe []struct {
			Name        string `json:"name"`
			SzDecimals  int    `json:"szDecimals"`
			PxDecimals  int    `json:"pxDecimals"`
			MaxLeverage int    `json:"maxLeverage"`
		} `json:"universe"`
	}
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	insts := make([]models.Instrument, 0, len(payload.Universe))
	for _, u := range payload.Universe {
		insts = append(insts, models.Instrument{
			Coin:        u.Name,
			SzDecimals:  u.SzDecimals,
			PxDecimals:  u.PxDecimals,
			MaxLeverage: u.MaxLeverage,
		})
	}
	return insts, nil
}
