package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"copytrade_go/internal/domain"
	"copytrade_go/internal/infra"
)

const (
	handshakeTimeout = 10 * time.Second
	pingInterval     = 30 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 10 * time.Second
	eventBuffer      = 64
	userAgent        = "copytrade-go"
)

var _ domain.TradeSubscriber = (*Subscriber)(nil)

// controlMessage is sent to subscribe or unsubscribe a subject.
type controlMessage struct {
	Op      string `json:"op"` // subscribe, unsubscribe
	Channel string `json:"channel"`
	Subject string `json:"subject"`
}

// pushMessage is one inbound frame. Data holds a single trade or an array.
type pushMessage struct {
	Type    string          `json:"type"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

// Subscriber opens one WebSocket per subject and forwards its trades.
// It never reconnects on its own: a dropped connection closes the event
// channel and the caller decides whether to subscribe again.
type Subscriber struct {
	url    string
	header http.Header
	dialer websocket.Dialer
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscription
	wg   sync.WaitGroup
}

type subscription struct {
	key     string
	conn    *websocket.Conn
	writeMu sync.Mutex
	out     chan domain.TradeEvent
	done    chan struct{}
	once    sync.Once
	stop    func() bool
}

// NewSubscriber creates a subscriber for the feed section of cfg.
func NewSubscriber(cfg *infra.Config) *Subscriber {
	header := make(http.Header)
	header.Set("User-Agent", userAgent)
	if cfg.API.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.API.Token)
	}

	return &Subscriber{
		url:    cfg.Feed.WSURL,
		header: header,
		dialer: websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger: slog.Default().With("module", "stream"),
		subs:   make(map[string]*subscription),
	}
}

// Subscribe dials the stream and subscribes to subjectKey. The returned
// channel is closed when the connection drops, ctx is cancelled or
// Unsubscribe is called. An existing subscription for the key is replaced.
func (s *Subscriber) Subscribe(ctx context.Context, subjectKey string) (<-chan domain.TradeEvent, error) {
	if err := s.Unsubscribe(subjectKey); err != nil {
		s.logger.Debug("Replacing subscription", "subject", subjectKey, "error", err)
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	sub := &subscription{
		key:  subjectKey,
		conn: conn,
		out:  make(chan domain.TradeEvent, eventBuffer),
		done: make(chan struct{}),
	}

	if err := sub.write(controlMessage{Op: "subscribe", Channel: "trades", Subject: subjectKey}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	sub.stop = context.AfterFunc(ctx, sub.close)

	s.mu.Lock()
	s.subs[subjectKey] = sub
	s.mu.Unlock()

	infra.GlobalMetrics.IncrementStreams()
	s.wg.Add(2)
	go s.readLoop(sub)
	go s.pingLoop(sub)

	s.logger.Info("Stream subscribed", "subject", subjectKey)
	return sub.out, nil
}

// Unsubscribe sends an unsubscribe frame and closes the subject's connection.
// Unknown keys are ignored.
func (s *Subscriber) Unsubscribe(subjectKey string) error {
	s.mu.Lock()
	sub, ok := s.subs[subjectKey]
	if ok {
		delete(s.subs, subjectKey)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}

	var err error
	if !sub.closed() {
		err = sub.write(controlMessage{Op: "unsubscribe", Channel: "trades", Subject: subjectKey})
	}
	sub.close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("unsubscribe %s: %w", subjectKey, err)
	}
	return nil
}

// Close drops every subscription and waits for the readers to exit.
func (s *Subscriber) Close() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.subs))
	for k := range s.subs {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	for _, k := range keys {
		s.Unsubscribe(k)
	}
	s.wg.Wait()
}

// readLoop owns the event channel and closes it on exit.
func (s *Subscriber) readLoop(sub *subscription) {
	defer s.wg.Done()
	defer close(sub.out)
	defer infra.GlobalMetrics.DecrementStreams()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Stream reader panic recovered", "subject", sub.key, "panic", r)
		}
		sub.stop()
		sub.close()
		s.mu.Lock()
		if s.subs[sub.key] == sub {
			delete(s.subs, sub.key)
		}
		s.mu.Unlock()
	}()

	for {
		_, message, err := sub.conn.ReadMessage()
		if err != nil {
			if !sub.closed() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Stream read error", "subject", sub.key, "error", err)
			}
			return
		}

		for _, ev := range s.decode(sub.key, message) {
			select {
			case sub.out <- ev:
			case <-sub.done:
				return
			}
		}
	}
}

// pingLoop keeps the read deadline moving while the server answers pings.
func (s *Subscriber) pingLoop(sub *subscription) {
	defer s.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			return
		case <-ticker.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.logger.Debug("Stream ping failed", "subject", sub.key, "error", err)
				sub.close()
				return
			}
		}
	}
}

// decode extracts the valid trades for subjectKey from one frame.
func (s *Subscriber) decode(subjectKey string, message []byte) []domain.TradeEvent {
	var msg pushMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.Debug("Stream message parse error", "subject", subjectKey, "error", err)
		return nil
	}
	if msg.Type != "trade" || len(msg.Data) == 0 {
		return nil
	}
	if msg.Subject != "" && msg.Subject != subjectKey {
		return nil
	}

	var records []infra.TradeRecord
	if data := bytes.TrimSpace(msg.Data); len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &records); err != nil {
			s.logger.Debug("Stream payload parse error", "subject", subjectKey, "error", err)
			return nil
		}
	} else {
		var rec infra.TradeRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Debug("Stream payload parse error", "subject", subjectKey, "error", err)
			return nil
		}
		records = append(records, rec)
	}

	events := make([]domain.TradeEvent, 0, len(records))
	for _, rec := range records {
		ev, err := rec.ToEvent(subjectKey)
		if err != nil {
			s.logger.Warn("Dropping malformed stream record", "subject", subjectKey, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events
}

// write sends a control frame; writes on one connection are serialized.
func (sub *subscription) write(msg controlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	sub.writeMu.Lock()
	defer sub.writeMu.Unlock()

	sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return sub.conn.WriteMessage(websocket.TextMessage, data)
}

func (sub *subscription) close() {
	sub.once.Do(func() {
		close(sub.done)
		sub.conn.Close()
	})
}

func (sub *subscription) closed() bool {
	select {
	case <-sub.done:
		return true
	default:
		return false
	}
}
