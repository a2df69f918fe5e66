package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SmitUplenchwar2687/checkpoint/internal/checkpoint"
	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
	"github.com/SmitUplenchwar2687/checkpoint/internal/keys"
	"github.com/SmitUplenchwar2687/checkpoint/internal/limiter"
	"github.com/SmitUplenchwar2687/checkpoint/internal/recorder"
)

func dialHub(t *testing.T, ts *httptest.Server, hub *Hub, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestHub_StalledClientDoesNotBlockAdmission(t *testing.T) {
	hub := NewHub(nil)
	vc := clock.NewVirtualClock(epoch)
	reason := strings.Repeat("x", 64<<10)
	hooks := checkpoint.Hooks{
		AfterCheck: func(_ context.Context, req keys.Request, v checkpoint.Verdict, err error) {
			ev := recorder.NewEvent(vc.Now(), limiter.AlgorithmTokenBucket, req, v, err)
			ev.Reason = reason
			hub.Broadcast(ev)
		},
	}
	srv := New("", newCheckpoint(t, nil, 1, checkpoint.WithHooks(hooks)), WithHub(hub))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// Never read from this connection.
	stalled := dialHub(t, ts, hub, 1)
	defer stalled.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			req := httptest.NewRequest(http.MethodGet, "/v1/items", nil)
			req.Header.Set("X-Api-Key", "k1")
			srv.Handler().ServeHTTP(httptest.NewRecorder(), req)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("requests blocked behind a client that does not read")
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want stalled client dropped", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_DisconnectedClientIsRemoved(t *testing.T) {
	hub := NewHub(nil)
	ts := httptest.NewServer(New("", newCheckpoint(t, nil, 1), WithHub(hub)).Handler())
	defer ts.Close()

	conn := dialHub(t, ts, hub, 1)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed client still registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Broadcasting with no clients is a no-op.
	hub.Broadcast(recorder.AdmissionEvent{Outcome: recorder.OutcomeAdmitted})
}
