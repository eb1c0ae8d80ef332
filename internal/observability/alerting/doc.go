// Package alerting 把带 Alert 属性的错误事件转发到日志或 webhook。
package alerting
