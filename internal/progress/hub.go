package progress

import (
	"context"
	"sync"
	"time"

	"jettyreport/internal/logger"
	"jettyreport/internal/models"
)

// Publisher is what upload producers need from the bus.
type Publisher interface {
	Publish(sessionID string, ev models.ProgressEvent)
}

// Broadcaster publishes events and ends sessions; both the Hub and the RedisRelay are one.
type Broadcaster interface {
	Publisher
	Finish(sessionID string)
}

const DefaultGracePeriod = time.Minute

type sessionState struct {
	subscribers map[*subscriber]struct{}
	terminal    []models.ProgressEvent // retained until teardown
	finished    bool
	opened      bool // by Open or Publish, not just a waiting subscriber
	teardown    *time.Timer
}

// Hub is a per-session broadcast registry: every subscriber of a session gets its own copy
// of each event published after it subscribed, in publish order.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	grace    time.Duration
}

func NewHub(grace time.Duration) *Hub {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Hub{
		sessions: make(map[string]*sessionState),
		grace:    grace,
	}
}

// Open registers the session; calling it again is a no-op.
func (h *Hub) Open(sessionID string) {
	h.mu.Lock()
	h.ensureLocked(sessionID).opened = true
	h.mu.Unlock()
}

func (h *Hub) ensureLocked(sessionID string) *sessionState {
	st, ok := h.sessions[sessionID]
	if !ok {
		st = &sessionState{subscribers: make(map[*subscriber]struct{})}
		h.sessions[sessionID] = st
	}
	return st
}

// Publish delivers ev to every current subscriber of the session.
func (h *Hub) Publish(sessionID string, ev models.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.ensureLocked(sessionID)
	st.opened = true
	if st.finished {
		logger.Debugf("[progress] drop event for finished session %s", sessionID)
		return
	}
	if ev.Done {
		st.terminal = append(st.terminal, ev)
	}
	for sub := range st.subscribers {
		sub.push(ev)
	}
}

// Subscribe returns a channel receiving the session's events until Finish, and a cancel
// func that detaches the subscriber. A subscriber attaching after Finish receives the
// retained terminal events and then a closed channel; one waiting on a session that is
// not opened within the grace period gets a closed channel.
func (h *Hub) Subscribe(ctx context.Context, sessionID string) (<-chan models.ProgressEvent, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	sub := newSubscriber()

	var wait *time.Timer
	h.mu.Lock()
	st := h.ensureLocked(sessionID)
	if st.finished {
		for _, ev := range st.terminal {
			sub.push(ev)
		}
		sub.close()
	} else {
		st.subscribers[sub] = struct{}{}
		if !st.opened {
			// nobody may ever upload under this id
			wait = time.AfterFunc(h.grace, func() { h.expireWaiting(sessionID, st, sub) })
		}
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if wait != nil {
				wait.Stop()
			}
			h.mu.Lock()
			if cur, ok := h.sessions[sessionID]; ok {
				delete(cur.subscribers, sub)
				// a session nobody ever published to is dropped with its last subscriber
				if !cur.opened && !cur.finished && len(cur.subscribers) == 0 {
					delete(h.sessions, sessionID)
				}
			}
			h.mu.Unlock()
			close(sub.detach)
		})
	}
	go func() {
		sub.pump(ctx)
		cancel()
	}()
	return sub.out, cancel
}

// expireWaiting closes a subscriber whose session was still not opened after the grace period.
func (h *Hub) expireWaiting(sessionID string, st *sessionState, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.sessions[sessionID]
	if !ok || cur != st || cur.opened || cur.finished {
		return
	}
	if _, ok := cur.subscribers[sub]; !ok {
		return
	}
	delete(cur.subscribers, sub)
	sub.close()
	if len(cur.subscribers) == 0 {
		delete(h.sessions, sessionID)
	}
	logger.Debugf("[progress] no upload under session %s within %s", sessionID, h.grace)
}

// Opened reports whether the session has been opened or published to and is not yet torn
// down.
func (h *Hub) Opened(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.sessions[sessionID]
	return ok && (st.opened || st.finished)
}

// Finish ends every subscription of the session once queued events are delivered, and
// schedules the session's teardown after the grace period.
func (h *Hub) Finish(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.ensureLocked(sessionID)
	if st.finished {
		return
	}
	st.finished = true
	for sub := range st.subscribers {
		sub.close()
		delete(st.subscribers, sub)
	}
	st.teardown = time.AfterFunc(h.grace, func() {
		h.mu.Lock()
		if cur, ok := h.sessions[sessionID]; ok && cur == st {
			delete(h.sessions, sessionID)
		}
		h.mu.Unlock()
	})
}

// Active reports whether the session is still registered.
func (h *Hub) Active(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[sessionID]
	return ok
}

// Finished reports whether Finish has been called and the session is not yet torn down.
func (h *Hub) Finished(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.sessions[sessionID]
	return ok && st.finished
}

// subscriber owns an ordered queue drained by its own goroutine, so a slow reader never
// blocks Publish and never loses events.
type subscriber struct {
	out    chan models.ProgressEvent
	wake   chan struct{}
	detach chan struct{}

	mu     sync.Mutex
	queue  []models.ProgressEvent
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{
		out:    make(chan models.ProgressEvent),
		wake:   make(chan struct{}, 1),
		detach: make(chan struct{}),
	}
}

func (s *subscriber) push(ev models.ProgressEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			select {
			case s.out <- ev:
			case <-s.detach:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		select {
		case <-s.wake:
		case <-s.detach:
			return
		case <-ctx.Done():
			return
		}
	}
}
