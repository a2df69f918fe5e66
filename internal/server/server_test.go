package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/SmitUplenchwar2687/checkpoint/internal/checkpoint"
	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
	"github.com/SmitUplenchwar2687/checkpoint/internal/keys"
	"github.com/SmitUplenchwar2687/checkpoint/internal/limiter"
	"github.com/SmitUplenchwar2687/checkpoint/internal/recorder"
	"github.com/SmitUplenchwar2687/checkpoint/internal/storage"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type downStore struct {
	storage.Store
}

func (downStore) TakeToken(context.Context, string, int64) (int64, bool, error) {
	return 0, false, errors.New("connection refused")
}

func newCheckpoint(t *testing.T, store storage.Store, capacity int64, opts ...checkpoint.Option) *checkpoint.Checkpoint {
	t.Helper()
	vc := clock.NewVirtualClock(epoch)
	if store == nil {
		store = storage.NewMemoryStore(vc)
	}
	l, err := limiter.NewTokenBucket(limiter.TokenBucketConfig{
		BucketCapacity: capacity,
		RefillRate:     1,
		RefillInterval: time.Minute,
		Field:          keys.HeaderField("X-Api-Key"),
		Scope:          keys.EndpointScope,
	}, store, limiter.WithClock(vc))
	if err != nil {
		t.Fatalf("NewTokenBucket() error = %v", err)
	}
	cp := checkpoint.New(l, append([]checkpoint.Option{checkpoint.WithClock(vc)}, opts...)...)
	t.Cleanup(func() { _ = cp.Close() })
	return cp
}

func get(t *testing.T, url, apiKey string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_Health(t *testing.T) {
	ts := httptest.NewServer(New("", newCheckpoint(t, nil, 1)).Handler())
	defer ts.Close()

	resp := get(t, ts.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestServer_AdmitsThenRejects(t *testing.T) {
	ts := httptest.NewServer(New("", newCheckpoint(t, nil, 2)).Handler())
	defer ts.Close()

	for i := 0; i < 2; i++ {
		resp := get(t, ts.URL+"/v1/items", "k1")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, resp.StatusCode)
		}
		if got := resp.Header.Get(checkpoint.HeaderLimit); got != "2" {
			t.Errorf("request %d: %s = %q, want 2", i+1, checkpoint.HeaderLimit, got)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["admitted"] != true {
			t.Errorf("request %d: admitted = %v, want true", i+1, body["admitted"])
		}
		if _, ok := body["decision"]; !ok {
			t.Errorf("request %d: missing decision in body", i+1)
		}
	}

	resp := get(t, ts.URL+"/v1/items", "k1")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if got := resp.Header.Get(checkpoint.HeaderRemaining); got != "0" {
		t.Errorf("%s = %q, want 0", checkpoint.HeaderRemaining, got)
	}
	if resp.Header.Get(checkpoint.HeaderRetryAfter) == "" {
		t.Errorf("missing %s header", checkpoint.HeaderRetryAfter)
	}
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != http.StatusTooManyRequests || body.Error == "" {
		t.Errorf("body = %+v", body)
	}

	// Other keys and endpoints are independent.
	if resp := get(t, ts.URL+"/v1/items", "k2"); resp.StatusCode != http.StatusOK {
		t.Errorf("other key: status = %d, want 200", resp.StatusCode)
	}
	if resp := get(t, ts.URL+"/v1/orders", "k1"); resp.StatusCode != http.StatusOK {
		t.Errorf("other endpoint: status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_MissingIdentity(t *testing.T) {
	ts := httptest.NewServer(New("", newCheckpoint(t, nil, 5)).Handler())
	defer ts.Close()

	resp := get(t, ts.URL+"/v1/items", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestServer_StoreFailure(t *testing.T) {
	tests := []struct {
		name     string
		failOpen bool
		want     int
	}{
		{"fail closed", false, http.StatusServiceUnavailable},
		{"fail open", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := newCheckpoint(t, downStore{}, 5)
			ts := httptest.NewServer(New("", cp, WithFailOpen(tt.failOpen)).Handler())
			defer ts.Close()

			resp := get(t, ts.URL+"/v1/items", "k1")
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestServer_CustomUpstream(t *testing.T) {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, ok := VerdictFromContext(r.Context())
		if !ok || !v.Admitted {
			t.Errorf("upstream saw verdict %+v, ok=%v", v, ok)
		}
		io.WriteString(w, "upstream")
	})
	ts := httptest.NewServer(New("", newCheckpoint(t, nil, 1), WithUpstream(upstream)).Handler())
	defer ts.Close()

	resp := get(t, ts.URL+"/anything", "k1")
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "upstream" {
		t.Errorf("body = %q, want upstream", b)
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "checkpoint_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	ts := httptest.NewServer(New("", newCheckpoint(t, nil, 1), WithMetrics(reg)).Handler())
	defer ts.Close()

	resp := get(t, ts.URL+"/metrics", "")
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "checkpoint_test_total 1") {
		t.Errorf("metrics output missing counter:\n%s", b)
	}
}

func TestServer_WebSocketBroadcast(t *testing.T) {
	hub := NewHub(nil)
	vc := clock.NewVirtualClock(epoch)
	cp := newCheckpoint(t, nil, 1, checkpoint.WithHooks(recorder.Hooks(vc, limiter.AlgorithmTokenBucket, hub.Broadcast)))
	ts := httptest.NewServer(New("", cp, WithHub(hub)).Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	get(t, ts.URL+"/v1/items", "k1")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev recorder.AdmissionEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Outcome != recorder.OutcomeAdmitted {
		t.Errorf("Outcome = %q, want %q", ev.Outcome, recorder.OutcomeAdmitted)
	}
	if ev.Path != "/v1/items" {
		t.Errorf("Path = %q, want /v1/items", ev.Path)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := New(ln.Addr().String(), newCheckpoint(t, nil, 1))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.StartOnListener(ln) }()

	resp := get(t, "http://"+ln.Addr().String()+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("StartOnListener() = %v, want ErrServerClosed", err)
	}
}

func TestServer_NilOptionsKeepDefaults(t *testing.T) {
	srv := New("", newCheckpoint(t, nil, 1), WithClock(nil), WithLogger(nil))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := get(t, ts.URL+"/v1/items", "k1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	resp = get(t, ts.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
}
