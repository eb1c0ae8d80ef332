package relay

import (
	"context"
	"sync"
)

// MemorySink keeps the most recent records in memory and fans them out to
// live watchers.
type MemorySink struct {
	mu       sync.RWMutex
	limit    int
	records  []Record
	watchers map[uint64]chan Record
	nextID   uint64
}

// NewMemorySink returns a sink holding at most limit records.
func NewMemorySink(limit int) *MemorySink {
	if limit <= 0 {
		limit = 100
	}
	return &MemorySink{limit: limit, watchers: make(map[uint64]chan Record)}
}

// Name implements Sink.
func (m *MemorySink) Name() string { return "memory" }

// Deliver stores rec and forwards it to every watcher. Slow watchers miss
// records rather than block delivery.
func (m *MemorySink) Deliver(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, rec)
	if over := len(m.records) - m.limit; over > 0 {
		m.records = append([]Record(nil), m.records[over:]...)
	}
	for _, ch := range m.watchers {
		select {
		case ch <- rec:
		default:
		}
	}
	return nil
}

// Recent returns up to limit of the newest records, oldest first. A
// non-positive limit returns everything retained.
func (m *MemorySink) Recent(limit int) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(m.records) {
		start = len(m.records) - limit
	}
	out := make([]Record, len(m.records)-start)
	copy(out, m.records[start:])
	return out
}

// Watch streams records delivered from now on. The returned cancel function
// must be called to release the watcher; it closes the channel.
func (m *MemorySink) Watch(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Record, buffer)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			if _, ok := m.watchers[id]; ok {
				delete(m.watchers, id)
				close(ch)
			}
			m.mu.Unlock()
		})
	}
}

// Close releases all watchers.
func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.watchers {
		delete(m.watchers, id)
		close(ch)
	}
	return nil
}
