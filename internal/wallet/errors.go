package wallet

import (
	xerrors "OpenMCP-Wallet/internal/errors"
)

const (
	CodeNotInstalled       xerrors.Code = "WALLET_NOT_INSTALLED"
	CodeNotReady           xerrors.Code = "WALLET_NOT_READY"
	CodeAlreadyConnected   xerrors.Code = "WALLET_ALREADY_CONNECTED"
	CodeWindowClosed       xerrors.Code = "WALLET_WINDOW_CLOSED"
	CodeConnectionError    xerrors.Code = "WALLET_CONNECTION_ERROR"
	CodeNotConnected       xerrors.Code = "WALLET_NOT_CONNECTED"
	CodeDisconnectionError xerrors.Code = "WALLET_DISCONNECTION_ERROR"
)

var (
	// ErrNotInstalled 表示探测结束后仍未发现钱包。
	ErrNotInstalled = xerrors.New(CodeNotInstalled, "wallet is not installed")
	// ErrNotReady 表示在初始化成功之前调用了 connect。
	ErrNotReady = xerrors.New(CodeNotReady, "wallet adapter is not ready, please init first")
	// ErrAlreadyConnected 表示已连接或已有握手正在进行。
	ErrAlreadyConnected = xerrors.New(CodeAlreadyConnected, "wallet is already connected or connecting")
	// ErrWindowClosed 表示用户关闭了钱包授权窗口。
	ErrWindowClosed = xerrors.New(CodeWindowClosed, "wallet window was closed before approval")
	// ErrConnection 表示钱包拒绝连接或握手后没有公钥。
	ErrConnection = xerrors.New(CodeConnectionError, "wallet connection failed")
	// ErrNotConnected 表示当前没有与钱包建立连接。
	ErrNotConnected = xerrors.New(CodeNotConnected, "not connected with wallet")
	// ErrDisconnection 表示钱包拒绝了断开请求。
	ErrDisconnection = xerrors.New(CodeDisconnectionError, "wallet disconnection failed")
	// ErrDroppedDuringHandshake 表示握手完成后、提交连接前钱包已断开。
	ErrDroppedDuringHandshake = xerrors.New(CodeConnectionError, "wallet disconnected during the handshake")
)

func init() {
	xerrors.Register(CodeNotInstalled, xerrors.Attributes{
		Message:  "wallet is not installed",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeNotReady, xerrors.Attributes{
		Message:   "wallet adapter is not ready",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
	})
	xerrors.Register(CodeAlreadyConnected, xerrors.Attributes{
		Message:  "wallet is already connected or connecting",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeWindowClosed, xerrors.Attributes{
		Message:   "wallet window closed",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
	})
	xerrors.Register(CodeConnectionError, xerrors.Attributes{
		Message:   "wallet connection error",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeNotConnected, xerrors.Attributes{
		Message:  "not connected with wallet",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeDisconnectionError, xerrors.Attributes{
		Message:   "wallet disconnection error",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// Native 判断 err 是否携带钱包自身的错误码。只有这些错误可以原样穿过
// 编排器，其余错误（包括其他错误码的统一错误）都需要重新包裹。
func Native(err error) bool {
	switch xerrors.CodeOf(err) {
	case CodeNotInstalled, CodeNotReady, CodeAlreadyConnected, CodeWindowClosed,
		CodeConnectionError, CodeNotConnected, CodeDisconnectionError:
		return true
	default:
		return false
	}
}

// ConnectionError 返回连接错误；cause 为空时表示握手后缺少公钥。
func ConnectionError(cause error) error {
	if cause == nil {
		return xerrors.New(CodeConnectionError, "wallet returned no public key")
	}
	return ensure(CodeConnectionError, cause)
}

// DisconnectionError 包裹钱包断开时返回的错误。
func DisconnectionError(cause error) error {
	if cause == nil {
		return ErrDisconnection
	}
	return ensure(CodeDisconnectionError, cause)
}

func ensure(code xerrors.Code, cause error) error {
	if Native(cause) {
		return cause
	}
	return xerrors.Wrap(code, cause, "")
}
