package openmcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"OpenMCP-Wallet/internal/adapter"
	"OpenMCP-Wallet/internal/api"
	"OpenMCP-Wallet/internal/relay"
	"OpenMCP-Wallet/internal/wallet/injected"
	"OpenMCP-Wallet/internal/wallet/probe"

	"github.com/gorilla/websocket"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWalletd(t *testing.T, decision injected.Decision) *httptest.Server {
	t.Helper()
	env := injected.NewEnvironment()
	env.Inject(injected.DefaultSlot, injected.New([]byte{0x02, 0x01}, injected.Always(decision)))
	p := probe.New(env.Lookup(injected.DefaultSlot), probe.WithLogger(discard()))
	a := adapter.New(p, adapter.WithLogger(discard()), adapter.WithAuditLogger(discard()))

	// 与 walletd 相同：先订阅事件再初始化，ready 记录才会进入历史。
	history := relay.NewMemorySink(10)
	r := relay.New(a.Name(), a.Events(), []relay.Sink{history}, relay.WithLogger(discard()))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = r.Close()
	})

	if err := a.Init(context.Background(), adapter.InitOptions{}); err != nil {
		t.Fatalf("init: %v", err)
	}

	srv := httptest.NewServer(api.NewServer(":0", a, api.WithHistory(history), api.WithLogger(discard())).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestConnectAndDisconnect(t *testing.T) {
	srv := newWalletd(t, injected.Approve)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	status, err := client.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !status.Connected || status.Identity != "0201" {
		t.Fatalf("unexpected status %+v", status)
	}
	if _, err := client.UserInfo(ctx); err != nil {
		t.Fatalf("userinfo: %v", err)
	}

	_, err = client.Connect(ctx)
	if !IsCode(err, "WALLET_ALREADY_CONNECTED") {
		t.Fatalf("expected already connected, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 api error, got %v", err)
	}

	if status, err = client.Disconnect(ctx); err != nil || status.Connected {
		t.Fatalf("disconnect: %+v %v", status, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		records, err := client.Events(ctx, 0)
		if err != nil {
			t.Fatalf("events: %v", err)
		}
		if len(records) >= 4 {
			want := []string{"ready", "connecting", "connected", "disconnected"}
			if len(records) != len(want) {
				t.Fatalf("unexpected records %+v", records)
			}
			for i, rec := range records {
				if rec.Event != want[i] {
					t.Fatalf("record %d: expected %s, got %s", i, want[i], rec.Event)
				}
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected four records, got %d", len(records))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectRejected(t *testing.T) {
	srv := newWalletd(t, injected.Reject)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Connect(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "WALLET_CONNECTION_ERROR" || !apiErr.Retryable {
		t.Fatalf("expected retryable connection error, got %v", err)
	}
	if _, err := client.Account(context.Background()); !IsCode(err, "WALLET_NOT_CONNECTED") {
		t.Fatalf("expected not connected, got %v", err)
	}
}

func TestErrorWithoutJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.Status(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "gateway down" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/wallet/events/stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, event := range []string{"connecting", "connected"} {
			data, _ := json.Marshal(Record{ID: event, Event: event})
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		// 保持连接直到客户端关闭。
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	err := client.Stream(ctx, func(rec Record) {
		got = append(got, rec.Event)
		if len(got) == 2 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(got) != 2 || got[0] != "connecting" || got[1] != "connected" {
		t.Fatalf("unexpected events %v", got)
	}
}
