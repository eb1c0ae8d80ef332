// Package events 提供钱包与连接编排器共用的事件通道：具名事件、按注册顺序的
// 同步派发，以及基于订阅令牌的取消订阅。
package events
