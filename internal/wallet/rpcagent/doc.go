// Package rpcagent 通过 go-ethereum JSON-RPC 传递钱包能力。Service 把任意本地
// 钱包注册在 "wallet" 命名空间下，connect 与 disconnect 信号经 wallet_subscribe
// 推送。Agent 是客户端：它镜像远端状态并在本地执行断开回调，编排器可以像拦截
// 进程内钱包一样拦截它。
package rpcagent
