package cache

import (
	"container/list"
	"sync"
	"time"
)

// Store 是按插入时间排序的内存缓存：map 提供 O(1) 查找，链表头部为
// 最新条目，尾部最旧，供容量淘汰与后台清理从尾部回收。
type Store struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List

	maxEntries int
	retention  time.Duration
	interval   time.Duration

	hits      uint64
	misses    uint64
	expired   uint64
	evicted   uint64
	sweepRuns uint64
	swept     uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	// now 可被测试替换，生产路径始终为 time.Now。
	now func() time.Time
}

type entry struct {
	key      string
	data     any
	storedAt time.Time
}

// New 构建 Store 并启动后台清理协程。调用方负责在进程退出前 Close。
func New(opts Options) *Store {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.SweepRetention <= 0 {
		opts.SweepRetention = defaultSweepRetention
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntries
	}

	s := &Store{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: opts.MaxEntries,
		retention:  opts.SweepRetention,
		interval:   opts.SweepInterval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		now:        time.Now,
	}

	go s.sweepLoop()
	return s
}

// Lookup 返回未过期条目的数据。过期判定以调用方传入的 ttl 为准，
// 过期条目在命中路径上即时删除（权威判定，见包注释）。
func (s *Store) Lookup(key string, ttl time.Duration) (any, bool) {
	if ttl <= 0 {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	element, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, false
	}

	item := element.Value.(*entry)
	if s.now().Sub(item.storedAt) >= ttl {
		s.removeLocked(element)
		s.expired++
		s.misses++
		return nil, false
	}

	s.hits++
	return item.data, true
}

// Put 写入或覆盖条目；容量满时淘汰最旧条目。
func (s *Store) Put(key string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if element, ok := s.entries[key]; ok {
		item := element.Value.(*entry)
		item.data = data
		item.storedAt = s.now()
		s.order.MoveToFront(element)
		return
	}

	if s.order.Len() >= s.maxEntries {
		if oldest := s.order.Back(); oldest != nil {
			s.removeLocked(oldest)
			s.evicted++
		}
	}

	element := s.order.PushFront(&entry{key: key, data: data, storedAt: s.now()})
	s.entries[key] = element
}

// Len 返回当前条目数。
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Purge 清空全部条目并返回删除数量，供诊断接口使用。
func (s *Store) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.order.Len()
	s.entries = make(map[string]*list.Element)
	s.order.Init()
	return removed
}

// Stats 返回计数器快照。
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Entries:   s.order.Len(),
		Hits:      s.hits,
		Misses:    s.misses,
		Expired:   s.expired,
		Evicted:   s.evicted,
		SweepRuns: s.sweepRuns,
		Swept:     s.swept,
	}
}

// Close 停止后台清理协程，可重复调用。
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

func (s *Store) sweepLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep 从链表尾部回收超过保留窗口的条目。保留窗口独立于每请求 TTL，
// 仅用于限制常驻内存。
func (s *Store) sweep() {
	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepRuns++
	for {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		item := oldest.Value.(*entry)
		if !item.storedAt.Before(cutoff) {
			break
		}
		s.removeLocked(oldest)
		s.swept++
	}
}

func (s *Store) removeLocked(element *list.Element) {
	item := element.Value.(*entry)
	s.order.Remove(element)
	delete(s.entries, item.key)
}
