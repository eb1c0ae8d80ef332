package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "OpenMCP-Wallet/internal/errors"
	"OpenMCP-Wallet/internal/relay"
	"OpenMCP-Wallet/internal/wallet"
)

type captureNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (c *captureNotifier) Channel() Channel { return c.channel }

func (c *captureNotifier) Notify(_ context.Context, event Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestSinkFiltersByAlertAttribute(t *testing.T) {
	capture := &captureNotifier{channel: ChannelLog}
	sink := NewSink(NewFanout(capture))
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	records := []relay.Record{
		{ID: "1", Adapter: "phantom", Event: "connected", SessionID: "s-1", OccurredAt: at},
		{ID: "2", Adapter: "phantom", Event: "errored", ErrorCode: string(wallet.CodeWindowClosed), Error: "closed", OccurredAt: at},
		{ID: "3", Adapter: "phantom", Event: "errored", ErrorCode: string(wallet.CodeDisconnectionError), Error: "busy", SessionID: "s-1", OccurredAt: at},
	}
	for _, rec := range records {
		if err := sink.Deliver(ctx, rec); err != nil {
			t.Fatalf("deliver %s: %v", rec.ID, err)
		}
	}

	if len(capture.events) != 1 {
		t.Fatalf("expected one alert, got %d", len(capture.events))
	}
	got := capture.events[0]
	if got.Code != wallet.CodeDisconnectionError || got.Message != "busy" || got.Lifecycle != "errored" || got.Metadata["record_id"] != "3" {
		t.Fatalf("unexpected alert %+v", got)
	}
	if got.Severity != xerrors.SeverityWarning {
		t.Fatalf("unexpected severity %s", got.Severity)
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	d := NewFanout(&captureNotifier{channel: ChannelLog}, &captureNotifier{channel: ChannelWebhook, err: boom}, nil)
	if err := d.Notify(context.Background(), Event{Code: xerrors.CodeUnknown}); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher should be a no-op: %v", err)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		if received.Code == xerrors.CodeUnknown {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	if err := n.Notify(context.Background(), Event{Code: wallet.CodeDisconnectionError, Adapter: "phantom"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.Code != wallet.CodeDisconnectionError || received.Adapter != "phantom" {
		t.Fatalf("unexpected payload %+v", received)
	}
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeUnknown}); err == nil {
		t.Fatal("expected non-2xx to fail")
	}
	if err := (&WebhookNotifier{}).Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unconfigured webhook should be skipped: %v", err)
	}
}

var _ relay.Sink = (*Sink)(nil)
