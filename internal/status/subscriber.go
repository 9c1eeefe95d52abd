package status

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/pkg/model"
)

// Subscriber is the push side of the status channel: a websocket
// subscription keyed by request id, feeding the same Tracker the pull
// endpoint feeds. It is low latency but unreliable; Failed exposes its
// health so callers can gate the polling fallback. One Subscriber serves
// sequential subscriptions; each Subscribe starts a fresh session.
type Subscriber struct {
	logger *zap.Logger
	url    string

	mu       sync.Mutex
	conn     *websocket.Conn
	closed   bool
	failed   chan error
	failSent bool
}

// NewSubscriber creates a push subscriber for the given websocket URL.
func NewSubscriber(logger *zap.Logger, wsURL string) *Subscriber {
	return &Subscriber{
		logger: logger,
		url:    wsURL,
		failed: make(chan error, 1),
	}
}

type subscribeMessage struct {
	Event     string `json:"event"`
	RequestID string `json:"requestId"`
}

type pushMessage struct {
	RequestID          string   `json:"requestId"`
	Status             string   `json:"status"`
	TxHashes           []string `json:"txHashes"`
	InTxHashes         []string `json:"inTxHashes"`
	OriginChainID      int64    `json:"originChainId"`
	DestinationChainID int64    `json:"destinationChainId"`
	Details            string   `json:"details"`
}

// Subscribe dials the push channel, subscribes to the request id, and
// streams updates into the tracker until a terminal status closes the
// subscription. Any previous session's state is discarded first. A dial
// failure is reported both as the return error and through Failed.
func (s *Subscriber) Subscribe(ctx context.Context, requestID string, tracker *Tracker) error {
	s.mu.Lock()
	s.conn = nil
	s.closed = false
	s.failed = make(chan error, 1)
	s.failSent = false
	s.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		err = fmt.Errorf("push channel dial failed: %w", err)
		s.reportFailure(err)
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if err := conn.WriteJSON(subscribeMessage{Event: "subscribe", RequestID: requestID}); err != nil {
		err = fmt.Errorf("push channel subscribe failed: %w", err)
		s.reportFailure(err)
		s.closeSession(conn)
		return err
	}

	s.logger.Info("status.push_subscribed",
		zap.String("request_id", requestID),
		zap.String("url", s.url))

	// Terminal statuses close the push subscription. The session's own
	// connection is passed in so a late fire cannot touch a successor.
	go func() {
		select {
		case <-tracker.Done():
		case <-ctx.Done():
		}
		s.closeSession(conn)
	}()

	go s.readLoop(conn, requestID, tracker)
	return nil
}

func (s *Subscriber) readLoop(conn *websocket.Conn, requestID string, tracker *Tracker) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if _, done := tracker.Terminal(); done || s.isClosed() {
				return
			}
			s.logger.Warn("status.push_read_failed", zap.Error(err))
			s.reportFailure(err)
			return
		}

		var msg pushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("status.push_decode_failed",
				zap.Error(err),
				zap.String("payload", string(data)))
			continue
		}
		if msg.RequestID != "" && msg.RequestID != requestID {
			continue
		}

		u := Update{
			Status:  model.CheckStatus(msg.Status),
			Details: msg.Details,
		}
		for _, h := range msg.TxHashes {
			u.TxHashes = append(u.TxHashes, model.TxHash{TxHash: h, ChainID: msg.DestinationChainID})
		}
		for _, h := range msg.InTxHashes {
			u.InTxHashes = append(u.InTxHashes, model.TxHash{TxHash: h, ChainID: msg.OriginChainID})
		}
		tracker.Apply(u)
	}
}

// Failed delivers the first failure of the current subscription. It never
// delivers when the channel stays healthy through to the terminal status.
func (s *Subscriber) Failed() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

func (s *Subscriber) reportFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSent {
		return
	}
	s.failSent = true
	s.failed <- err
}

func (s *Subscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// closeSession closes conn only while it is still the active session's
// connection.
func (s *Subscriber) closeSession(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn != conn {
		return
	}
	s.closed = true
	_ = conn.Close()
}

// Close tears down the current subscription.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn == nil {
		s.closed = true
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
