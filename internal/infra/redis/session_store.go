package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// claimScript sets the owner key when it is free or already ours, and returns
// whoever owns the game afterwards.
var claimScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current or current == ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return ARGV[1]
end
return current
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionStore is a Redis-aware implementation of SessionRepository.
// Machines stay in a local map; Redis holds one owner key per game so that
// only one instance ever runs a given game.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	owner    string
	mu       sync.RWMutex
	sessions map[string]*app.Machine
}

func NewSessionStore(client *redis.Client, ttl time.Duration, owner string) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		owner:    owner,
		sessions: make(map[string]*app.Machine),
	}
}

func (s *SessionStore) Get(gameID string) (*app.Machine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.sessions[gameID]
	return m, ok
}

// Put claims gameID for this instance before registering m. It fails with
// domain.ErrGameOwnedElsewhere while another instance holds the claim.
func (s *SessionStore) Put(ctx context.Context, gameID string, m *app.Machine) (*app.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[gameID]; ok {
		return existing, nil
	}
	owner, err := claimScript.Run(ctx, s.client, []string{s.key(gameID)}, s.owner, s.ttl.Milliseconds()).Text()
	if err != nil {
		return nil, fmt.Errorf("claim game %s: %w: %w", gameID, domain.ErrPersistence, err)
	}
	if owner != s.owner {
		return nil, fmt.Errorf("game %s runs on %s: %w", gameID, owner, domain.ErrGameOwnedElsewhere)
	}
	s.sessions[gameID] = m
	return m, nil
}

// Remove is called with the machine's lock held and must not call back into it.
func (s *SessionStore) Remove(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[gameID]; !ok {
		return
	}
	delete(s.sessions, gameID)
	if err := releaseScript.Run(context.Background(), s.client, []string{s.key(gameID)}, s.owner).Err(); err != nil {
		log.Warn().Err(err).Str("game_id", gameID).Msg("release game claim")
	}
}

// Refresh renews the claims of every local game. A game whose claim was taken
// over while this instance could not renew it is dropped locally.
func (s *SessionStore) Refresh(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	if len(ids) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.Cmd, len(ids))
	for i, id := range ids {
		cmds[i] = claimScript.Eval(ctx, pipe, []string{s.key(id)}, s.owner, s.ttl.Milliseconds())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	for i, cmd := range cmds {
		owner, err := cmd.Text()
		if err != nil || owner == s.owner {
			continue
		}
		s.evict(ids[i], owner)
	}
	return nil
}

func (s *SessionStore) evict(gameID, owner string) {
	s.mu.Lock()
	m, ok := s.sessions[gameID]
	delete(s.sessions, gameID)
	s.mu.Unlock()
	if !ok {
		return
	}
	log.Warn().Str("game_id", gameID).Str("owner", owner).Msg("game claimed by another instance, dropping local machine")
	m.Close()
}

func (s *SessionStore) key(gameID string) string {
	return "game:session:" + gameID
}
