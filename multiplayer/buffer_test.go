package multiplayer

import (
	"context"
	"testing"
)

func TestBufferDeduplicatesRefills(t *testing.T) {
	src := &fixedSource{size: 4}
	b := NewChallengeBuffer(src, 1, 2, 10)
	ctx := context.Background()

	if err := b.Fill(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Fill(ctx); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 4 {
		t.Fatalf("expected 4 distinct challenges, got %d", b.Len())
	}
}

func TestBufferWrapsAround(t *testing.T) {
	b := NewChallengeBuffer(&fixedSource{size: 3}, 1, 1, 10)
	if _, ok := b.At(0); ok {
		t.Fatal("empty buffer returned a challenge")
	}
	if err := b.Fill(context.Background()); err != nil {
		t.Fatal(err)
	}
	first, _ := b.At(0)
	again, ok := b.At(3)
	if !ok || again.ChallengeID != first.ChallengeID {
		t.Fatalf("index 3 should wrap to %d, got %d", first.ChallengeID, again.ChallengeID)
	}
}

func TestBufferPrefetchesAtLowWater(t *testing.T) {
	src := &fixedSource{size: 5}
	b := NewChallengeBuffer(src, 1, 2, 10)
	ctx := context.Background()
	if err := b.Fill(ctx); err != nil {
		t.Fatal(err)
	}

	b.Advanced(ctx, 1)
	b.Wait()
	if src.Calls() != 1 {
		t.Fatalf("prefetched while plenty remained: %d calls", src.Calls())
	}

	b.Advanced(ctx, 3)
	b.Wait()
	if src.Calls() != 2 {
		t.Fatalf("expected a prefetch at the low-water mark, got %d calls", src.Calls())
	}
	if b.Len() != 5 {
		t.Fatalf("prefetch duplicated challenges: %d", b.Len())
	}
}

func TestBufferKeepsServedIndexesStable(t *testing.T) {
	src := &fixedSource{size: 3}
	b := NewChallengeBuffer(src, 1, 1, 10)
	ctx := context.Background()
	if err := b.Fill(ctx); err != nil {
		t.Fatal(err)
	}

	shown, ok := b.At(4)
	if !ok {
		t.Fatal("no challenge past the end of the buffer")
	}

	src.mu.Lock()
	src.size = 4
	src.mu.Unlock()
	if err := b.Fill(ctx); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 4 {
		t.Fatalf("refill should add challenge 4, have %d", b.Len())
	}

	graded, _ := b.At(4)
	if graded.ChallengeID != shown.ChallengeID {
		t.Fatalf("index 4 moved from challenge %d to %d after a refill", shown.ChallengeID, graded.ChallengeID)
	}
	if next, _ := b.At(5); next.ChallengeID != 4 {
		t.Fatalf("refilled challenge should follow the served ones, got %d", next.ChallengeID)
	}
}
