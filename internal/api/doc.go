// Package api 暴露 HTTP 入口：各平台的 Webhook 回调、网页渠道命令接口，
// 以及受管理令牌保护的连接器与分发日志查询接口。
package api
