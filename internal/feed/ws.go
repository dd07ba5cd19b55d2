package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type subscribeMessage struct {
	Method     string `json:"method"`
	Instrument string `json:"instrument"`
}

// WSSource reads events from a websocket and reconnects after read errors,
// replaying its subscriptions on every new connection.
type WSSource struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	subs []string
}

func NewWSSource(url string, instruments []string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *WSSource {
	if log == nil {
		log = zap.NewNop()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	return &WSSource{
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
		subs:           append([]string(nil), instruments...),
	}
}

func (s *WSSource) Run(ctx context.Context, handler func(Event)) error {
	for {
		if err := s.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("ws connect failed", zap.String("url", s.url), zap.Error(err))
			if !s.wait(ctx) {
				return ctx.Err()
			}
			continue
		}
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			s.pingLoop(pingCtx)
		}()
		err := s.readLoop(ctx, handler)
		cancel()
		<-pingDone
		if ctx.Err() != nil {
			s.resetConn()
			return ctx.Err()
		}
		s.logReadLoopError(err)
		s.resetConn()
		if !s.wait(ctx) {
			return ctx.Err()
		}
	}
}

func (s *WSSource) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.reconnectDelay):
		return true
	}
}

func (s *WSSource) connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(maxLineBytes)
	s.mu.Lock()
	s.conn = conn
	subs := append([]string(nil), s.subs...)
	s.mu.Unlock()
	for _, id := range subs {
		if err := writeJSON(ctx, conn, subscribeMessage{Method: "subscribe", Instrument: id}); err != nil {
			return err
		}
	}
	return nil
}

func (s *WSSource) readLoop(ctx context.Context, handler func(Event)) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		ev, err := Decode(data)
		if err != nil {
			s.log.Debug("skipping ws frame", zap.Error(err))
			continue
		}
		handler(ev)
	}
}

func (s *WSSource) pingLoop(ctx context.Context) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || s.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, s.pingInterval)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *WSSource) logReadLoopError(err error) {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			s.log.Info("ws read loop ended", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
	}
	s.log.Warn("ws read loop ended", zap.Error(err))
}

func (s *WSSource) resetConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "reset")
		s.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
