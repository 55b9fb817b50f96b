package realtime

import "sync"

// lanes runs functions serially per key and concurrently across keys. A lane
// goroutine exists only while its key has queued work. At most limit
// functions may be queued or running at once.
type lanes struct {
	mu      sync.Mutex
	queues  map[string][]func()
	pending int
	limit   int
	wg      sync.WaitGroup
}

func newLanes(limit int) *lanes {
	return &lanes{queues: make(map[string][]func()), limit: limit}
}

// Go queues fn on key's lane. It reports false, without queueing, when the
// limit is reached.
func (l *lanes) Go(key string, fn func()) bool {
	l.mu.Lock()
	if l.pending >= l.limit {
		l.mu.Unlock()
		return false
	}
	l.pending++
	q, running := l.queues[key]
	l.queues[key] = append(q, fn)
	if running {
		l.mu.Unlock()
		return true
	}
	l.wg.Add(1)
	l.mu.Unlock()
	go l.drain(key)
	return true
}

func (l *lanes) drain(key string) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		q := l.queues[key]
		if len(q) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		fn := q[0]
		l.queues[key] = q[1:]
		l.mu.Unlock()
		fn()
		l.mu.Lock()
		l.pending--
		l.mu.Unlock()
	}
}

// Wait blocks until every queued function has run.
func (l *lanes) Wait() { l.wg.Wait() }
