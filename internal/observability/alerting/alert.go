package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	xerrors "OpenMCP-Wallet/internal/errors"
	"OpenMCP-Wallet/internal/relay"
	"OpenMCP-Wallet/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Event 描述一次需要告警的钱包事件。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	Adapter    string            `json:"adapter"`
	Lifecycle  string            `json:"lifecycle"`
	SessionID  string            `json:"session_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 将告警写入日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 以 error 级别记录告警。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	l := n.Logger
	if l == nil {
		l = logger.Named("alerting")
	}
	l.Error("钱包告警",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("adapter", event.Adapter),
		slog.String("session_id", event.SessionID),
		slog.String("message", event.Message),
	)
	return nil
}

// WebhookNotifier 以 JSON 形式 POST 告警。
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// Channel 返回 webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 发送 webhook 请求，非 2xx 响应视为失败。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("code", string(event.Code)))
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}

// Sink 作为事件转发目标，只把需要告警的错误交给 Dispatcher。
type Sink struct {
	dispatcher Dispatcher
}

// NewSink 构造告警转发目标。
func NewSink(dispatcher Dispatcher) *Sink {
	return &Sink{dispatcher: dispatcher}
}

// Name implements relay.Sink.
func (s *Sink) Name() string { return "alerting" }

// Deliver implements relay.Sink.
func (s *Sink) Deliver(ctx context.Context, rec relay.Record) error {
	if rec.ErrorCode == "" {
		return nil
	}
	code := xerrors.Code(rec.ErrorCode)
	attrs := xerrors.AttributesOf(code)
	if !attrs.Alert {
		return nil
	}
	return s.dispatcher.Notify(ctx, Event{
		Code:       code,
		Message:    rec.Error,
		Severity:   attrs.Severity,
		Adapter:    rec.Adapter,
		Lifecycle:  rec.Event,
		SessionID:  rec.SessionID,
		Metadata:   map[string]string{"record_id": rec.ID},
		OccurredAt: rec.OccurredAt,
	})
}

// Close implements relay.Sink.
func (s *Sink) Close() error { return nil }
