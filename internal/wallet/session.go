package wallet

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// IdentitySession 是与链无关的会话提供者，只携带钱包公钥与唯一 ID。
type IdentitySession struct {
	id       string
	identity []byte
	closed   atomic.Bool
}

// NewIdentitySession 为 identity 创建带新 ID 的会话。
func NewIdentitySession(identity []byte) *IdentitySession {
	return &IdentitySession{id: uuid.NewString(), identity: bytes.Clone(identity)}
}

// ID 返回会话 ID。
func (s *IdentitySession) ID() string { return s.id }

// Identity 返回公钥副本。
func (s *IdentitySession) Identity() []byte { return bytes.Clone(s.identity) }

// Closed 判断会话是否已失效。
func (s *IdentitySession) Closed() bool { return s.closed.Load() }

// Close 使会话失效。
func (s *IdentitySession) Close() error {
	s.closed.Store(true)
	return nil
}

// IdentityFactory 构造 IdentitySession，未配置链时作为默认工厂。
type IdentityFactory struct{}

// NewSession 实现 SessionFactory。
func (IdentityFactory) NewSession(_ context.Context, identity []byte) (SessionProvider, error) {
	return NewIdentitySession(identity), nil
}
