package market

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Feed is a reconnecting websocket price subscriber. Subscriptions are
// replayed after every reconnect; the latest price per asset is cached
// for the observe phase.
type Feed struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	subs []interface{}

	priceMu sync.RWMutex
	prices  map[string]pricePoint
}

type pricePoint struct {
	price decimal.Decimal
	at    time.Time
}

type priceUpdate struct {
	Channel string `json:"channel"`
	Data    struct {
		Asset    string `json:"asset"`
		PriceUSD string `json:"price_usd"`
	} `json:"data"`
}

func NewFeed(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Feed {
	return &Feed{
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
		prices:         make(map[string]pricePoint),
	}
}

func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, f.url, nil)
	if err != nil {
		return err
	}
	f.conn = conn
	return nil
}

// SubscribePrices registers a price subscription for the given assets.
// The subscription is remembered and re-sent on reconnect.
func (f *Feed) SubscribePrices(ctx context.Context, assets []string) error {
	sub := map[string]any{
		"method": "subscribe",
		"params": map[string]any{"channel": "price", "assets": assets},
	}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return errors.New("feed not connected")
	}
	return writeJSON(ctx, conn, sub)
}

// Run consumes messages until ctx is cancelled, reconnecting with the
// configured delay after read errors.
func (f *Feed) Run(ctx context.Context) error {
	for {
		if err := f.ensureConnected(ctx); err != nil {
			return err
		}
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			f.pingLoop(pingCtx)
		}()
		err := f.readLoop(ctx)
		cancel()
		<-pingDone
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logReadLoopError(err)
			f.resetConn()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.reconnectDelay):
			}
			continue
		}
	}
}

// Price returns the latest cached price for the asset and when it was
// observed.
func (f *Feed) Price(asset string) (decimal.Decimal, time.Time, bool) {
	f.priceMu.RLock()
	defer f.priceMu.RUnlock()
	p, ok := f.prices[asset]
	if !ok {
		return decimal.Decimal{}, time.Time{}, false
	}
	return p.price, p.at, true
}

func (f *Feed) ensureConnected(ctx context.Context) error {
	if err := f.Connect(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	conn := f.conn
	subs := append([]interface{}(nil), f.subs...)
	f.mu.Unlock()
	for _, sub := range subs {
		if err := writeJSON(ctx, conn, sub); err != nil {
			return err
		}
	}
	return nil
}

func (f *Feed) readLoop(ctx context.Context) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return errors.New("feed not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		f.handleMessage(data)
	}
}

func (f *Feed) handleMessage(data []byte) {
	var update priceUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return
	}
	if update.Channel != "price" || update.Data.Asset == "" {
		return
	}
	price, err := decimal.NewFromString(update.Data.PriceUSD)
	if err != nil {
		if f.log != nil {
			f.log.Warn("malformed price update", zap.String("asset", update.Data.Asset), zap.Error(err))
		}
		return
	}
	f.priceMu.Lock()
	f.prices[update.Data.Asset] = pricePoint{price: price, at: time.Now().UTC()}
	f.priceMu.Unlock()
}

func (f *Feed) pingLoop(ctx context.Context) {
	f.mu.Lock()
	conn := f.conn
	interval := f.pingInterval
	f.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, pingMessage); err != nil {
				return
			}
		}
	}
}

func (f *Feed) logReadLoopError(err error) {
	if f.log == nil {
		return
	}
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			f.log.Info("feed read loop ended", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
		f.log.Info("feed read loop ended", zap.Error(err))
		return
	}
	f.log.Warn("feed read loop ended", zap.Error(err))
}

func (f *Feed) resetConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close(websocket.StatusNormalClosure, "reset")
		f.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

var pingMessage = map[string]any{"method": "ping"}
