package multiplayer

import (
	"context"
	"sync"
	"time"
)

// PlayerIdleAfter is how long an idle player stays registered after its
// last request.
const PlayerIdleAfter = 10 * time.Minute

// Registry holds one Player per user. Players with nothing going on are
// dropped by Prune.
type Registry struct {
	deps  *Deps
	coord *Coordinator
	base  context.Context

	mu      sync.Mutex
	players map[string]*Player
}

// NewRegistry creates a registry; sessions run until base is cancelled.
func NewRegistry(base context.Context, deps *Deps, coord *Coordinator) *Registry {
	return &Registry{
		deps:    deps,
		coord:   coord,
		base:    base,
		players: make(map[string]*Player),
	}
}

// Get returns the user's player, creating it on first use. The username
// given on first use sticks while the player stays registered.
func (r *Registry) Get(userID, username string) *Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.deps.Clock.Now()
	if p, ok := r.players[userID]; ok {
		p.seen = now
		return p
	}
	if username == "" {
		username = userID
	}
	p := newPlayer(r.base, r.deps, r.coord, userID, username)
	p.seen = now
	r.players[userID] = p
	return p
}

// Prune drops players that have been idle since before PlayerIdleAfter: no
// stream, queue wait or match session. It returns how many were dropped.
func (r *Registry) Prune() int {
	cutoff := r.deps.Clock.Now().Add(-PlayerIdleAfter)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, p := range r.players {
		if p.seen.After(cutoff) || !p.idle() {
			continue
		}
		delete(r.players, id)
		n++
	}
	return n
}

func (r *Registry) Lookup(userID string) (*Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[userID]
	return p, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Close stops every player.
func (r *Registry) Close() {
	r.mu.Lock()
	players := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p)
	}
	r.players = make(map[string]*Player)
	r.mu.Unlock()

	for _, p := range players {
		p.Close()
	}
}
