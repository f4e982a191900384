package broker

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// TickStream subscribes to the vendor websocket feed and pushes parsed ticks
// onto a bounded channel. The watchdog loop is the only consumer; nothing in
// this package mutates shared position state, so the tick path needs no locks
// beyond connection management.
type TickStream struct {
	mu sync.Mutex

	url       string
	apiKey    string
	token     string
	logger    zerolog.Logger
	conn      *websocket.Conn
	isRunning bool
	stopped   bool
	stopChan  chan struct{}

	ticks   chan Tick
	tickers []string

	reconnects int
	dropped    int64
}

// NewTickStream creates a stream for the given tickers. bufferSize bounds the
// tick channel; when the consumer falls behind, ticks are dropped and counted
// rather than blocking the read loop.
func NewTickStream(url, apiKey, token string, tickers []string, bufferSize int, logger zerolog.Logger) *TickStream {
	return &TickStream{
		url:     url,
		apiKey:  apiKey,
		token:   token,
		logger:  logger.With().Str("component", "TickStream").Logger(),
		ticks:   make(chan Tick, bufferSize),
		tickers: tickers,
	}
}

// Ticks returns the bounded tick channel.
func (s *TickStream) Ticks() <-chan Tick {
	return s.ticks
}

// Dropped returns the count of ticks discarded because the buffer was full.
func (s *TickStream) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Start connects and begins streaming. Reconnects with a flat delay until
// Stop. The stream is single-use: Stop closes the tick channel, so a stopped
// stream cannot be started again.
func (s *TickStream) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("tick stream already running")
	}
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("tick stream already stopped, create a new one")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go s.connectLoop()
	return nil
}

// Stop closes the connection and the tick channel.
func (s *TickStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.isRunning = false
	s.stopped = true
	close(s.stopChan)
	if s.conn != nil {
		s.conn.Close()
	}
	s.logger.Info().Int("reconnects", s.reconnects).Int64("dropped", s.dropped).Msg("Tick stream stopped")
}

func (s *TickStream) connectLoop() {
	for {
		select {
		case <-s.stopChan:
			close(s.ticks)
			return
		default:
		}

		if err := s.connect(); err != nil {
			s.logger.Error().Err(err).Msg("Tick stream connection failed")
		}

		select {
		case <-s.stopChan:
			close(s.ticks)
			return
		case <-time.After(5 * time.Second):
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
			s.logger.Warn().Int("attempt", s.reconnects).Msg("Reconnecting tick stream")
		}
	}
}

func (s *TickStream) connect() error {
	url := fmt.Sprintf("%s?api_key=%s&access_token=%s", s.url, s.apiKey, s.token)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if err := s.subscribe(conn); err != nil {
		conn.Close()
		return err
	}

	s.logger.Info().Int("tickers", len(s.tickers)).Msg("Tick stream connected")
	return s.readLoop(conn)
}

func (s *TickStream) subscribe(conn *websocket.Conn) error {
	msg := map[string]interface{}{
		"a": "subscribe",
		"v": s.tickers,
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	// Full mode carries traded quantity and cumulative volume per tick.
	mode := map[string]interface{}{
		"a": "mode",
		"v": []interface{}{"full", s.tickers},
	}
	return conn.WriteJSON(mode)
}

// tickFrame is the vendor gateway's JSON tick shape.
type tickFrame struct {
	Ticker     string  `json:"tradingsymbol"`
	LastPrice  float64 `json:"last_price"`
	LastQty    int64   `json:"last_traded_quantity"`
	DayVolume  int64   `json:"volume_traded"`
	ExchangeTS int64   `json:"exchange_timestamp"`
}

func (s *TickStream) readLoop(conn *websocket.Conn) error {
	for {
		select {
		case <-s.stopChan:
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.handleMessage(message)
	}
}

func (s *TickStream) handleMessage(message []byte) {
	var frames []tickFrame
	if err := json.Unmarshal(message, &frames); err != nil {
		// Single-frame and heartbeat messages arrive as objects.
		var single tickFrame
		if err := json.Unmarshal(message, &single); err != nil || single.Ticker == "" {
			return
		}
		frames = []tickFrame{single}
	}

	for _, f := range frames {
		tick := Tick{
			Ticker:    f.Ticker,
			Price:     f.LastPrice,
			Quantity:  f.LastQty,
			Volume:    f.DayVolume,
			Timestamp: time.Unix(f.ExchangeTS, 0),
		}
		select {
		case s.ticks <- tick:
		default:
			s.mu.Lock()
			s.dropped++
			dropped := s.dropped
			s.mu.Unlock()
			if dropped%1000 == 1 {
				s.logger.Warn().Int64("dropped", dropped).Msg("Tick buffer full, dropping ticks")
			}
		}
	}
}
