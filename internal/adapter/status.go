package adapter

// Status 表示编排器状态，生命周期事件使用相同的名称。
type Status string

const (
	StatusNotReady     Status = "not_ready"
	StatusReady        Status = "ready"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusErrored      Status = "errored"
)

// 通过 Adapter.Events() 发布的生命周期事件名。
const (
	EventReady        = string(StatusReady)
	EventConnecting   = string(StatusConnecting)
	EventConnected    = string(StatusConnected)
	EventDisconnected = string(StatusDisconnected)
	EventErrored      = string(StatusErrored)
)

// LifecycleEvents 按状态顺序列出编排器发出的全部事件。
var LifecycleEvents = []string{EventReady, EventConnecting, EventConnected, EventDisconnected, EventErrored}

// connectable 判断能否从 s 发起连接。Disconnected 与 Errored 视同 Ready。
func (s Status) connectable() bool {
	switch s {
	case StatusReady, StatusDisconnected, StatusErrored:
		return true
	default:
		return false
	}
}

// ConnectingData 是 EventConnecting 的载荷。
type ConnectingData struct {
	Adapter string `json:"adapter"`
}

// ConnectedData 是 EventConnected 的载荷。仅当连接由 Init 的自动连接建立时
// Reconnected 为 true。
type ConnectedData struct {
	Adapter     string `json:"adapter"`
	Reconnected bool   `json:"reconnected"`
	SessionID   string `json:"session_id"`
}

// DisconnectedData 是 EventDisconnected 的载荷。
type DisconnectedData struct {
	Adapter string `json:"adapter"`
	// AgentInitiated 表示会话由钱包一侧主动结束。
	AgentInitiated bool `json:"agent_initiated"`
}
