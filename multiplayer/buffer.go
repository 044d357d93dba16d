package multiplayer

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"git-arcade/services"
)

// ChallengeBuffer is a player's sequence of challenges. It refills in the
// background once fewer than lowWater unconsumed entries remain; refills
// never add a challenge id already buffered, and only one runs at a time.
// Once an index has been read it keeps pointing at the same instance.
type ChallengeBuffer struct {
	source   ChallengeSource
	worldID  int
	lowWater int
	batch    int

	mu sync.Mutex
	// items is the served sequence; pool holds each distinct challenge once.
	items []services.ChallengeInstance
	pool  []services.ChallengeInstance
	ids   map[int]bool

	flight singleflight.Group
	wg     sync.WaitGroup
}

func NewChallengeBuffer(source ChallengeSource, worldID, lowWater, batch int) *ChallengeBuffer {
	return &ChallengeBuffer{
		source:   source,
		worldID:  worldID,
		lowWater: lowWater,
		batch:    batch,
		ids:      make(map[int]bool),
	}
}

// Fill fetches one batch and waits for it.
func (b *ChallengeBuffer) Fill(ctx context.Context) error {
	_, err, _ := b.flight.Do("fetch", func() (any, error) {
		return nil, b.fetch(ctx)
	})
	return err
}

func (b *ChallengeBuffer) fetch(ctx context.Context) error {
	list, err := b.source.RandomChallenges(ctx, b.worldID, b.batch)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, inst := range list {
		if b.ids[inst.ChallengeID] {
			continue
		}
		b.ids[inst.ChallengeID] = true
		b.pool = append(b.pool, inst)
		b.items = append(b.items, inst)
	}
	return nil
}

// Len returns the number of distinct challenges buffered.
func (b *ChallengeBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pool)
}

// At returns the challenge for a player's index. Reading past the end extends
// the sequence by cycling through the distinct challenges, so a small world
// keeps serving and later refills only ever append.
func (b *ChallengeBuffer) At(i int) (services.ChallengeInstance, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pool) == 0 || i < 0 {
		return services.ChallengeInstance{}, false
	}
	for len(b.items) <= i {
		b.items = append(b.items, b.pool[len(b.items)%len(b.pool)])
	}
	return b.items[i], true
}

// Advanced tells the buffer the player now stands at index next and starts a
// background refill when the buffer runs low. It never blocks on the fetch.
func (b *ChallengeBuffer) Advanced(ctx context.Context, next int) {
	b.mu.Lock()
	remaining := len(b.items) - next
	b.mu.Unlock()
	if remaining > b.lowWater {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.Fill(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("component", "match").Int("world_id", b.worldID).Msg("challenge prefetch failed")
		}
	}()
}

// Wait blocks until background refills have finished.
func (b *ChallengeBuffer) Wait() { b.wg.Wait() }
