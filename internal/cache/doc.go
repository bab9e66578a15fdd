// Package cache 提供代理层共享的内存响应缓存。
//
// 条目按 method+URL+序列化 body 作为键，过期判定以每次 Lookup 携带的
// TTL 为准；后台清理循环只负责按固定保留窗口兜底回收内存，不参与
// 正确性判定。Store 由进程启动时构造一次，清理协程随 Store 生命周期
// 启动与停止。
package cache
