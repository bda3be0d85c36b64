package marketdata

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/avelios/anchor/internal/domain"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	dialTimeout       = 30 * time.Second
	writeWait         = 10 * time.Second
	baseReconnectWait = 5 * time.Second
	maxReconnectWait  = 5 * time.Minute
)

// TickHandler receives live ticks from the stream.
type TickHandler func(quote domain.PriceQuote)

// TickStream maintains a websocket subscription for live price ticks and
// reconnects with exponential backoff when the connection drops.
type TickStream struct {
	url     string
	symbols []string
	handler TickHandler
	log     zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	cancel   context.CancelFunc
	stopChan chan struct{}
	stopped  bool
}

func NewTickStream(url string, symbols []string, handler TickHandler, log zerolog.Logger) *TickStream {
	return &TickStream{
		url:      url,
		symbols:  symbols,
		handler:  handler,
		log:      log.With().Str("component", "tick_stream").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start connects and begins delivering ticks in the background. A failed
// initial connection is retried in the background rather than surfaced.
func (s *TickStream) Start() {
	go s.run()
}

// Stop closes the connection and halts reconnection.
func (s *TickStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopChan)
	if s.cancel != nil {
		s.cancel()
	}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
	s.log.Info().Msg("tick stream stopped")
}

func (s *TickStream) run() {
	attempt := 0
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		ctx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()

		if err := s.connect(ctx); err != nil {
			cancel()
			attempt++
			wait := reconnectWait(attempt)
			s.log.Warn().Err(err).Dur("retry_in", wait).Msg("tick stream connection failed")
			select {
			case <-s.stopChan:
				return
			case <-time.After(wait):
				continue
			}
		}

		attempt = 0
		s.readLoop(ctx)
		cancel()
	}
}

func (s *TickStream) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		return err
	}

	sub := map[string]interface{}{"action": "subscribe", "symbols": s.symbols}
	payload, _ := json.Marshal(sub)
	writeCtx, cancelWrite := context.WithTimeout(ctx, writeWait)
	defer cancelWrite()
	if err := conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.log.Info().Strs("symbols", s.symbols).Msg("tick stream connected")
	return nil
}

type tickMessage struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Timestamp     int64   `json:"timestamp"`
	IsMarketHours bool    `json:"is_market_hours"`
}

func (s *TickStream) readLoop(ctx context.Context) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				s.log.Warn().Err(err).Msg("tick stream read failed, reconnecting")
			}
			return
		}

		var tick tickMessage
		if err := json.Unmarshal(data, &tick); err != nil {
			s.log.Debug().Err(err).Msg("skipping malformed tick")
			continue
		}
		if tick.Symbol == "" || tick.Price <= 0 {
			continue
		}

		s.handler(domain.PriceQuote{
			Symbol:        tick.Symbol,
			Price:         tick.Price,
			Timestamp:     time.Unix(tick.Timestamp, 0).UTC(),
			IsMarketHours: tick.IsMarketHours,
		})
	}
}

func reconnectWait(attempt int) time.Duration {
	wait := time.Duration(float64(baseReconnectWait) * math.Pow(2, float64(attempt-1)))
	if wait > maxReconnectWait {
		return maxReconnectWait
	}
	return wait
}
