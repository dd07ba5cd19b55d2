package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func TestWSSourceSubscribesAndDelivers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	subCh := make(chan subscribeMessage, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var sub subscribeMessage
		if err := json.Unmarshal(data, &sub); err == nil {
			subCh <- sub
		}
		frames := []string{
			`{"instrument":"btc-15m","ts_ms":1000,"mid":0.91}`,
			`garbage`,
			`{"type":"close","instrument":"btc-15m"}`,
		}
		for _, f := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	src := NewWSSource(wsURL, []string{"btc-15m"}, 10*time.Millisecond, 0, zap.NewNop())

	events := make(chan Event, 4)
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = src.Run(runCtx, func(ev Event) { events <- ev })
	}()

	select {
	case sub := <-subCh:
		if sub.Method != "subscribe" || sub.Instrument != "btc-15m" {
			t.Fatalf("unexpected subscription %+v", sub)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for subscription")
	}
	var got []EventType
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}
	if got[0] != EventTick || got[1] != EventClose {
		t.Fatalf("unexpected events %v", got)
	}
}
