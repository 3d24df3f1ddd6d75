package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gatehouse/cmd/identity/ids"
)

// MemoryStore implements Store in process memory. Used when no database is
// configured and in tests.
type MemoryStore struct {
	opts storeOptions

	mu     sync.Mutex
	seq    uint64
	byHash map[string]*memSession
}

type memSession struct {
	Session
	seq uint64
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore(opts ...Option) (*MemoryStore, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{opts: o, byHash: make(map[string]*memSession)}, nil
}

func (s *MemoryStore) Create(ctx context.Context, userID, tok string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateCreate(userID, tok, ttl); err != nil {
		return "", err
	}

	now := s.opts.clock.Now().UTC()
	h := s.opts.hasher.Hex(tok)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(now, userID, h, ttl)
}

func (s *MemoryStore) IsLive(ctx context.Context, tok string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if strings.TrimSpace(tok) == "" {
		return false, nil
	}

	now := s.opts.clock.Now()
	h := s.opts.hasher.Hex(tok)

	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.byHash[h]
	return ok && ms.ExpiresAt.After(now), nil
}

func (s *MemoryStore) Rotate(ctx context.Context, oldTok, userID, newTok string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateCreate(userID, newTok, ttl); err != nil {
		return "", err
	}

	now := s.opts.clock.Now().UTC()
	oldHash := s.opts.hasher.Hex(oldTok)
	newHash := s.opts.hasher.Hex(newTok)

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byHash[oldHash]
	if !ok || old.UserID != userID || !old.ExpiresAt.After(now) {
		return "", ErrSessionNotFound
	}
	if _, dup := s.byHash[newHash]; dup {
		return "", errDuplicateToken
	}

	delete(s.byHash, oldHash)
	return s.insertLocked(now, userID, newHash, ttl)
}

func (s *MemoryStore) Revoke(ctx context.Context, tok string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	h := s.opts.hasher.Hex(tok)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byHash[h]
	delete(s.byHash, h)
	return ok, nil
}

func (s *MemoryStore) RevokeAll(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for h, ms := range s.byHash {
		if ms.UserID == userID {
			delete(s.byHash, h)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for h, ms := range s.byHash {
		if !ms.ExpiresAt.After(now) {
			delete(s.byHash, h)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored rows, live or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byHash)
}

func (s *MemoryStore) insertLocked(now time.Time, userID, h string, ttl time.Duration) (string, error) {
	if _, dup := s.byHash[h]; dup {
		return "", errDuplicateToken
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}

	s.seq++
	s.byHash[h] = &memSession{
		Session: Session{
			ID:        id,
			UserID:    userID,
			TokenHash: h,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		},
		seq: s.seq,
	}

	if s.opts.maxPerUser > 0 {
		s.evictOverflowLocked(userID)
	}
	return id, nil
}

// evictOverflowLocked keeps only the newest maxPerUser sessions of userID.
func (s *MemoryStore) evictOverflowLocked(userID string) {
	var mine []*memSession
	for _, ms := range s.byHash {
		if ms.UserID == userID {
			mine = append(mine, ms)
		}
	}
	if len(mine) <= s.opts.maxPerUser {
		return
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].seq > mine[j].seq })
	for _, ms := range mine[s.opts.maxPerUser:] {
		delete(s.byHash, ms.TokenHash)
	}
}
