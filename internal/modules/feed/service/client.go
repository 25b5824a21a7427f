package service

import (
	"context"
	"strconv"
	"sync"
	"time"
	"trade_engine/internal/models"
	"trade_engine/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// Client streams mark prices over websocket and caches the latest value per
// coin. The engine reads snapshots from the cache; a dead stream degrades to
// stale prices, never to a blocked cycle.
type Client struct {
	url    string
	dialer *websocket.Dialer

	mu     sync.RWMutex
	prices map[string]float64
	seenAt map[string]time.Time
}

func NewClient(url string) *Client {
	return &Client{
		url:    url,
		dialer: &websocket.Dialer{},
		prices: make(map[string]float64),
		seenAt: make(map[string]time.Time),
	}
}

// Snapshot returns the cached view for coin. LastPrice is zero when the feed
// has never seen the coin.
func (c *Client) Snapshot(coin string) models.MarketSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.MarketSnapshot{
		Coin:      coin,
		LastPrice: c.prices[coin],
		TakenAt:   c.seenAt[coin],
	}
}

// Start runs the connect/read loop until ctx is cancelled, reconnecting with a
// flat one-second backoff.
func (c *Client) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		logger.Info("feed: connecting %s", c.url)
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			logger.Error("feed: dial error: %v", err)
			time.Sleep(time.Second)
			continue
		}

		sub := map[string]any{
			"method":       "subscribe",
			"subscription": map[string]string{"type": "allMids"},
		}
		if err := conn.WriteJSON(sub); err != nil {
			logger.Error("feed: subscribe error: %v", err)
			_ = conn.Close()
			continue
		}

		// keepalive ping every 30s, the server drops silent connections
		stopPing := make(chan struct{})
		go func() {
			t := time.NewTicker(30 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-stopPing:
					return
				case <-t.C:
					_ = conn.WriteJSON(map[string]string{"method": "ping"})
				}
			}
		}()

		c.readLoop(ctx, conn)
		close(stopPing)
		_ = conn.Close()
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Error("feed: read error: %v", err)
			return
		}

		var frame struct {
			Channel string `json:"channel"`
			Data    struct {
				Mids map[string]string `json:"mids"`
			} `json:"data"`
		}
		if err := sonic.Unmarshal(msg, &frame); err != nil {
			continue
		}
		if frame.Channel != "allMids" || len(frame.Data.Mids) == 0 {
			continue
		}

		now := time.Now().UTC()
		c.mu.Lock()
		for coin, raw := range frame.Data.Mids {
			px, err := strconv.ParseFloat(raw, 64)
			if err != nil || px <= 0 {
				continue
			}
			c.prices[coin] = px
			c.seenAt[coin] = now
		}
		c.mu.Unlock()
	}
}
