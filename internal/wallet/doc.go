// Package wallet 定义外部签名钱包的能力接口、钱包共享状态（Base）、断开回调
// 的拦截守卫、会话提供者约定以及钱包错误码。
//
// 具体钱包位于子包：injected 是在具名环境槽位中出现的进程内钱包，rpcagent
// 是通过 go-ethereum JSON-RPC 访问的远程钱包。probe 负责发现钱包，proxy 是
// 编排器使用的透传代理。
package wallet
