// Package server 承载 Fiber 应用的装配：请求 ID 中间件、/proxy 与 /-/
// 诊断路由的注册，以及所有外发调用共享的 http.Client。
package server
