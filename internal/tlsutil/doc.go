// Package tlsutil 为访问执行后端的 HTTP 客户端和 API 服务端提供统一的
// TLS 加固配置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
