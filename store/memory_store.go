package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"git-arcade/models"
	"git-arcade/realtime"
)

// MemoryStore is a Store kept entirely in process. A single mutex makes
// every method atomic, which is what the atomic procedures require.
type MemoryStore struct {
	mu    sync.Mutex
	clock clockwork.Clock
	pub   realtime.Publisher
	seq   int64

	worlds      map[int]models.World
	challenges  map[int]models.Challenge
	states      map[int]models.GitState
	transitions []models.ValidTransition
	variables   map[string]models.DynamicVariable

	queue    map[string]queueRow
	matches  map[string]models.Match
	events   []models.MatchEvent
	invites  map[string]models.Invite
	history  map[string]models.MatchHistory
	profiles map[string]models.Profile
	scores   []models.GameScore
	progress map[string]models.UserProgress
}

type queueRow struct {
	entry models.QueueEntry
	seq   int64
}

// NewMemoryStore returns an empty store publishing changes to pub.
func NewMemoryStore(pub realtime.Publisher, clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:      clock,
		pub:        publisherOrNop(pub),
		worlds:     make(map[int]models.World),
		challenges: make(map[int]models.Challenge),
		states:     make(map[int]models.GitState),
		variables:  make(map[string]models.DynamicVariable),
		queue:      make(map[string]queueRow),
		matches:    make(map[string]models.Match),
		invites:    make(map[string]models.Invite),
		history:    make(map[string]models.MatchHistory),
		profiles:   make(map[string]models.Profile),
		progress:   make(map[string]models.UserProgress),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

func (s *MemoryStore) nextSeq() int64 {
	s.seq++
	return s.seq
}

// ---- reference data ----

func (s *MemoryStore) ListWorlds(ctx context.Context) ([]models.World, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.World, 0, len(s.worlds))
	for _, w := range s.worlds {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetWorld(ctx context.Context, id int) (models.World, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.worlds[id]
	if !ok {
		return models.World{}, ErrNotFound
	}
	return w, nil
}

func (s *MemoryStore) GetWorldBySlug(ctx context.Context, slug string) (models.World, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.worlds {
		if w.Slug == slug {
			return w, nil
		}
	}
	return models.World{}, ErrNotFound
}

func (s *MemoryStore) ChallengesByWorld(ctx context.Context, worldID int) ([]models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Challenge
	for _, c := range s.challenges {
		if c.WorldID == worldID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetChallenge(ctx context.Context, id int) (models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return models.Challenge{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) StatesByIDs(ctx context.Context, ids []int) ([]models.GitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.GitState
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if st, ok := s.states[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetState(ctx context.Context, id int) (models.GitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return models.GitState{}, ErrNotFound
	}
	return st, nil
}

func (s *MemoryStore) TransitionsFrom(ctx context.Context, challengeID, stateID int) ([]models.ValidTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ValidTransition
	for _, t := range s.transitions {
		if t.ChallengeID == challengeID && t.CurrentStateID == stateID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) TransitionsByChallenge(ctx context.Context, challengeID int) ([]models.ValidTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ValidTransition
	for _, t := range s.transitions {
		if t.ChallengeID == challengeID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

func (s *MemoryStore) DynamicVariables(ctx context.Context) ([]models.DynamicVariable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DynamicVariable, 0, len(s.variables))
	for _, v := range s.variables {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariableName < out[j].VariableName })
	return out, nil
}

func (s *MemoryStore) ImportContent(ctx context.Context, b ContentBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range b.Worlds {
		s.worlds[w.ID] = w
	}
	for _, c := range b.Challenges {
		s.challenges[c.ID] = c
	}
	for _, st := range b.GitStates {
		s.states[st.ID] = st
	}
	for _, t := range b.ValidTransitions {
		replaced := false
		if t.ID != 0 {
			for i := range s.transitions {
				if s.transitions[i].ID == t.ID {
					s.transitions[i], replaced = t, true
					break
				}
			}
		} else {
			t.ID = uint(s.nextSeq())
		}
		if !replaced {
			s.transitions = append(s.transitions, t)
		}
	}
	sort.SliceStable(s.transitions, func(i, j int) bool { return s.transitions[i].ID < s.transitions[j].ID })
	for _, v := range b.DynamicVariables {
		s.variables[v.VariableName] = v
	}
	return nil
}

// ---- queue ----

func (s *MemoryStore) InsertQueueEntry(ctx context.Context, e *models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = models.QueueStatusWaiting
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock.Now()
	}
	if old, ok := s.queue[e.UserID]; ok {
		s.pub.Publish(queueChange(realtime.OpDelete, old.entry))
	}
	s.queue[e.UserID] = queueRow{entry: *e, seq: s.nextSeq()}
	s.pub.Publish(queueChange(realtime.OpInsert, *e))
	return nil
}

func (s *MemoryStore) DeleteQueueEntry(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteQueueLocked(userID)
	return nil
}

func (s *MemoryStore) GetQueueEntry(ctx context.Context, userID string) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.queue[userID]
	if !ok {
		return models.QueueEntry{}, ErrNotFound
	}
	return row.entry, nil
}

func (s *MemoryStore) deleteQueueLocked(userID string) {
	if row, ok := s.queue[userID]; ok {
		delete(s.queue, userID)
		s.pub.Publish(queueChange(realtime.OpDelete, row.entry))
	}
}

func (s *MemoryStore) WaitingQueue(ctx context.Context, excludeUserID string) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]queueRow, 0, len(s.queue))
	for uid, row := range s.queue {
		if uid == excludeUserID || row.entry.Status != models.QueueStatusWaiting {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].entry.CreatedAt.Equal(rows[j].entry.CreatedAt) {
			return rows[i].entry.CreatedAt.Before(rows[j].entry.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]models.QueueEntry, len(rows))
	for i, r := range rows {
		out[i] = r.entry
	}
	return out, nil
}

func (s *MemoryStore) CleanupStaleQueue(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for uid, row := range s.queue {
		if row.entry.CreatedAt.Before(before) {
			s.deleteQueueLocked(uid)
			n++
		}
	}
	return n, nil
}

// ---- matches ----

func (s *MemoryStore) openMatchForPairLocked(a, b string) (models.Match, bool) {
	var best models.Match
	found := false
	for _, m := range s.matches {
		if !m.IsOpen() || !m.IsParticipant(a) || !m.IsParticipant(b) {
			continue
		}
		if !found || m.CreatedAt.After(best.CreatedAt) {
			best, found = m, true
		}
	}
	return best, found
}

func (s *MemoryStore) newMatchLocked(p CreateMatchParams) models.Match {
	now := s.clock.Now()
	m := models.Match{
		ID:              uuid.NewString(),
		Player1ID:       p.Player1ID,
		Player1Username: p.Player1Username,
		Player2ID:       p.Player2ID,
		Player2Username: p.Player2Username,
		Status:          models.MatchStatusWaiting,
		ScoreLimit:      p.ScoreLimit,
		GameDuration:    p.GameDuration,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.matches[m.ID] = m
	s.pub.Publish(matchChange(realtime.OpInsert, m))
	return m
}

func (s *MemoryStore) CreateMatchForOpponent(ctx context.Context, p CreateMatchParams) (models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.openMatchForPairLocked(p.Player1ID, p.Player2ID); ok {
		return existing, ErrMatchExists
	}
	if _, ok := s.queue[p.Player1ID]; !ok {
		return models.Match{}, ErrOpponentUnavailable
	}
	if _, ok := s.queue[p.Player2ID]; !ok {
		return models.Match{}, ErrQueueEntryMissing
	}
	m := s.newMatchLocked(p)
	s.deleteQueueLocked(p.Player1ID)
	s.deleteQueueLocked(p.Player2ID)
	return m, nil
}

func (s *MemoryStore) GetMatch(ctx context.Context, id string) (models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return models.Match{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) OpenMatchForPair(ctx context.Context, a, b string) (models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.openMatchForPairLocked(a, b); ok {
		return m, nil
	}
	return models.Match{}, ErrNotFound
}

func (s *MemoryStore) OpenMatchForUser(ctx context.Context, userID string) (models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best models.Match
	found := false
	for _, m := range s.matches {
		if !m.IsOpen() || !m.IsParticipant(userID) {
			continue
		}
		if !found || m.CreatedAt.After(best.CreatedAt) {
			best, found = m, true
		}
	}
	if !found {
		return models.Match{}, ErrNotFound
	}
	return best, nil
}

func (s *MemoryStore) MatchesForUser(ctx context.Context, userID string) ([]models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Match
	for _, m := range s.matches {
		if m.IsParticipant(userID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListOpenMatches(ctx context.Context) ([]models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Match
	for _, m := range s.matches {
		if m.IsOpen() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) HasActiveMatch(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.matches {
		if m.Status == models.MatchStatusActive && m.IsParticipant(userID) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) DeleteMatch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.matches[id]; ok {
		delete(s.matches, id)
		s.pub.Publish(matchChange(realtime.OpDelete, m))
	}
	return nil
}

func (s *MemoryStore) MarkReady(ctx context.Context, matchID, userID string, now time.Time) (models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return models.Match{}, ErrNotFound
	}
	if !m.IsParticipant(userID) {
		return m, ErrNotParticipant
	}
	if markReady(&m, userID, now) {
		m.UpdatedAt = s.clock.Now()
		s.matches[matchID] = m
		s.pub.Publish(matchChange(realtime.OpUpdate, m))
	}
	return m, nil
}

func (s *MemoryStore) ApplySubmission(ctx context.Context, matchID, userID string, correct bool) (models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return models.Match{}, ErrNotFound
	}
	if !m.IsParticipant(userID) {
		return m, ErrNotParticipant
	}
	if m.Status != models.MatchStatusActive {
		return m, ErrMatchNotActive
	}
	applySubmission(&m, userID, correct)
	m.UpdatedAt = s.clock.Now()
	s.matches[matchID] = m
	s.pub.Publish(matchChange(realtime.OpUpdate, m))
	return m, nil
}

func (s *MemoryStore) FinishMatch(ctx context.Context, matchID, winnerID, reason string, now time.Time) (models.Match, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return models.Match{}, false, ErrNotFound
	}
	if m.Status == models.MatchStatusFinished {
		return m, false, nil
	}
	finished := now
	m.Status = models.MatchStatusFinished
	m.WinnerID = winnerID
	m.WinnerReason = reason
	m.FinishedAt = &finished
	m.UpdatedAt = s.clock.Now()
	s.matches[matchID] = m
	s.pub.Publish(matchChange(realtime.OpUpdate, m))
	return m, true, nil
}

func (s *MemoryStore) RecordHistory(ctx context.Context, h models.MatchHistory) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.history[h.MatchID]; ok {
		return false, nil
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	s.history[h.MatchID] = h
	return true, nil
}

func (s *MemoryStore) HistoryForUser(ctx context.Context, userID string, limit int) ([]models.MatchHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MatchHistory
	for _, h := range s.history {
		if h.Player1ID == userID || h.Player2ID == userID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertEvent(ctx context.Context, e *models.MatchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock.Now()
	}
	s.events = append(s.events, *e)
	s.pub.Publish(eventChange(*e))
	return nil
}

func (s *MemoryStore) EventsSince(ctx context.Context, matchID, excludeUserID string, since time.Time) ([]models.MatchEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MatchEvent
	for _, e := range s.events {
		if e.MatchID == matchID && e.UserID != excludeUserID && e.CreatedAt.After(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var n int64
	for _, e := range s.events {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return n, nil
}

// ---- profiles & invites ----

func (s *MemoryStore) UpsertProfile(ctx context.Context, p models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if old, ok := s.profiles[p.UserID]; ok {
		p.CreatedAt = old.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.profiles[p.UserID] = p
	return nil
}

func (s *MemoryStore) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return models.Profile{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) SearchProfiles(ctx context.Context, query, excludeUserID string, limit int) ([]models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(query))
	var out []models.Profile
	for _, p := range s.profiles {
		if p.UserID == excludeUserID {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Username), q) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateInvite(ctx context.Context, inv *models.Invite, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.invites {
		if other.Status != models.InviteStatusPending || !other.ExpiresAt.After(now) {
			continue
		}
		samePair := (other.SenderID == inv.SenderID && other.ReceiverID == inv.ReceiverID) ||
			(other.SenderID == inv.ReceiverID && other.ReceiverID == inv.SenderID)
		if samePair {
			return ErrInviteExists
		}
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.Status = models.InviteStatusPending
	inv.CreatedAt = now
	inv.UpdatedAt = now
	s.invites[inv.ID] = *inv
	s.pub.Publish(inviteChange(realtime.OpInsert, *inv))
	return nil
}

func (s *MemoryStore) GetInvite(ctx context.Context, id string) (models.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok {
		return models.Invite{}, ErrNotFound
	}
	return inv, nil
}

func (s *MemoryStore) PendingInvites(ctx context.Context, userID string, now time.Time) ([]models.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Invite
	for _, inv := range s.invites {
		if inv.Status != models.InviteStatusPending || !inv.ExpiresAt.After(now) {
			continue
		}
		if inv.SenderID == userID || inv.ReceiverID == userID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) updateInviteLocked(inv models.Invite, status string) models.Invite {
	inv.Status = status
	inv.UpdatedAt = s.clock.Now()
	s.invites[inv.ID] = inv
	s.pub.Publish(inviteChange(realtime.OpUpdate, inv))
	return inv
}

func (s *MemoryStore) AcceptInvite(ctx context.Context, inviteID, receiverID string, p CreateMatchParams, now time.Time) (models.Invite, models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[inviteID]
	if !ok {
		return models.Invite{}, models.Match{}, ErrNotFound
	}
	if inv.ReceiverID != receiverID {
		return inv, models.Match{}, ErrNotInviteParty
	}
	if inv.Status != models.InviteStatusPending {
		return inv, models.Match{}, ErrInviteNotPending
	}
	if !inv.ExpiresAt.After(now) {
		inv = s.updateInviteLocked(inv, models.InviteStatusExpired)
		return inv, models.Match{}, ErrInviteExpired
	}
	m, exists := s.openMatchForPairLocked(inv.SenderID, inv.ReceiverID)
	if !exists {
		m = s.newMatchLocked(p)
	}
	s.deleteQueueLocked(inv.SenderID)
	s.deleteQueueLocked(inv.ReceiverID)
	inv.MatchID = m.ID
	inv = s.updateInviteLocked(inv, models.InviteStatusAccepted)
	return inv, m, nil
}

func (s *MemoryStore) RejectInvite(ctx context.Context, inviteID, receiverID string) (models.Invite, error) {
	return s.closeInvite(inviteID, func(inv models.Invite) bool { return inv.ReceiverID == receiverID }, models.InviteStatusRejected)
}

func (s *MemoryStore) CancelInvite(ctx context.Context, inviteID, senderID string) (models.Invite, error) {
	return s.closeInvite(inviteID, func(inv models.Invite) bool { return inv.SenderID == senderID }, models.InviteStatusCancelled)
}

func (s *MemoryStore) closeInvite(inviteID string, allowed func(models.Invite) bool, status string) (models.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[inviteID]
	if !ok {
		return models.Invite{}, ErrNotFound
	}
	if !allowed(inv) {
		return inv, ErrNotInviteParty
	}
	if inv.Status != models.InviteStatusPending {
		return inv, ErrInviteNotPending
	}
	return s.updateInviteLocked(inv, status), nil
}

func (s *MemoryStore) ExpireInvites(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, inv := range s.invites {
		if inv.Status == models.InviteStatusPending && !inv.ExpiresAt.After(now) {
			s.updateInviteLocked(inv, models.InviteStatusExpired)
			n++
		}
	}
	return n, nil
}

// ---- scores & progress ----

func (s *MemoryStore) SaveScore(ctx context.Context, gs *models.GameScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gs.ID == "" {
		gs.ID = uuid.NewString()
	}
	now := s.clock.Now()
	gs.CreatedAt, gs.UpdatedAt = now, now
	s.scores = append(s.scores, *gs)
	return nil
}

func sortScores(out []models.GameScore) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}

func (s *MemoryStore) TopScores(ctx context.Context, mode string, limit int) ([]models.GameScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.GameScore
	for _, gs := range s.scores {
		if mode == "" || gs.Mode == mode {
			out = append(out, gs)
		}
	}
	sortScores(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) HighScore(ctx context.Context, mode, userID string) (models.GameScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.GameScore
	for _, gs := range s.scores {
		if gs.Mode == mode && (userID == "" || gs.UserID == userID) {
			out = append(out, gs)
		}
	}
	if len(out) == 0 {
		return models.GameScore{}, ErrNotFound
	}
	sortScores(out)
	return out[0], nil
}

func (s *MemoryStore) ScoreSummary(ctx context.Context, userID string) ([]models.ModeSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byMode := make(map[string]*models.ModeSummary)
	for _, gs := range s.scores {
		if gs.UserID != userID {
			continue
		}
		sum := byMode[gs.Mode]
		if sum == nil {
			sum = &models.ModeSummary{Mode: gs.Mode, Best: gs.Score}
			byMode[gs.Mode] = sum
		}
		sum.Games++
		sum.Total += int64(gs.Score)
		if gs.Score > sum.Best {
			sum.Best = gs.Score
		}
	}
	out := make([]models.ModeSummary, 0, len(byMode))
	for _, sum := range byMode {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mode < out[j].Mode })
	return out, nil
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, userID, username string, fn func(*models.UserProgress)) (models.UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	p, ok := s.progress[userID]
	if !ok {
		p = models.UserProgress{ID: uuid.NewString(), UserID: userID, Level: 1, Rank: 1}
		p.CreatedAt = now
	}
	if username != "" {
		p.Username = username
	}
	fn(&p)
	p.UpdatedAt = now
	s.progress[userID] = p
	return p, nil
}

func (s *MemoryStore) GetProgress(ctx context.Context, userID string) (models.UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[userID]
	if !ok {
		return models.UserProgress{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) TopXP(ctx context.Context, limit int) ([]models.UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UserProgress, 0, len(s.progress))
	for _, p := range s.progress {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalXP != out[j].TotalXP {
			return out[i].TotalXP > out[j].TotalXP
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
