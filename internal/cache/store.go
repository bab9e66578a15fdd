package cache

import (
	"strings"
	"time"
)

// Key 将 method/URL/序列化 body 拼接为缓存键。method 统一大写，
// 避免调用方传入 get/GET 产生两个条目。
func Key(method, target, body string) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(' ')
	b.WriteString(target)
	if body != "" {
		b.WriteByte(' ')
		b.WriteString(body)
	}
	return b.String()
}

// Options 控制 Store 的清理节奏与容量上限，零值字段回退到默认值。
type Options struct {
	SweepInterval  time.Duration
	SweepRetention time.Duration
	MaxEntries     int
}

const (
	defaultSweepInterval  = 60 * time.Second
	defaultSweepRetention = 5 * time.Minute
	defaultMaxEntries     = 4096
)

// Stats 汇总缓存计数器，供 /-/cache 诊断接口输出。
type Stats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Expired   uint64 `json:"expired"`
	Evicted   uint64 `json:"evicted"`
	SweepRuns uint64 `json:"sweep_runs"`
	Swept     uint64 `json:"swept"`
}
