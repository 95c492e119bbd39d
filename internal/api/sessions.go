package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"jettyreport/internal/redis"
)

// errSessionReused is returned when an upload id labels a second upload action.
var errSessionReused = errors.New("upload session already used")

const sessionKeyPrefix = "upload:session:"

// sessionRegistry hands out upload ids and makes sure each one is consumed once.
type sessionRegistry interface {
	Create(ctx context.Context, id string) error
	Claim(ctx context.Context, id string) error
}

func newSessionRegistry(cache *redis.Client, ttl time.Duration) sessionRegistry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if cache != nil {
		return &redisSessions{cache: cache, ttl: ttl}
	}
	return &memorySessions{entries: make(map[string]sessionEntry), ttl: ttl, now: time.Now}
}

type sessionEntry struct {
	claimed bool
	at      time.Time
}

type memorySessions struct {
	mu      sync.Mutex
	entries map[string]sessionEntry
	ttl     time.Duration
	now     func() time.Time
}

func (m *memorySessions) Create(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	m.entries[id] = sessionEntry{at: m.now()}
	return nil
}

// Claim accepts ids it never handed out as well; the client may pick its own.
func (m *memorySessions) Claim(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	if e, ok := m.entries[id]; ok && e.claimed {
		return errSessionReused
	}
	m.entries[id] = sessionEntry{claimed: true, at: m.now()}
	return nil
}

func (m *memorySessions) pruneLocked() {
	cutoff := m.now().Add(-m.ttl)
	for id, e := range m.entries {
		if e.at.Before(cutoff) {
			delete(m.entries, id)
		}
	}
}

// redisSessions shares claims between instances behind one load balancer.
type redisSessions struct {
	cache *redis.Client
	ttl   time.Duration
}

// Create has nothing to store: ids are random uuids and only the claim must be shared.
func (r *redisSessions) Create(context.Context, string) error { return nil }

func (r *redisSessions) Claim(ctx context.Context, id string) error {
	ok, err := r.cache.SetNX(ctx, sessionKeyPrefix+id, "claimed", r.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return errSessionReused
	}
	return nil
}
