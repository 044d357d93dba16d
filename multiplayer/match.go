package multiplayer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"git-arcade/models"
	"git-arcade/realtime"
	"git-arcade/services"
	"git-arcade/store"
)

var (
	ErrSessionClosed = errors.New("match session is closed")
	ErrNoChallenge   = errors.New("no challenge available for this match")
)

// SessionEventKind classifies what a MatchSession reports to its owner.
type SessionEventKind string

const (
	// SessionUpdated carries a newer authoritative match row.
	SessionUpdated SessionEventKind = "updated"
	// SessionActivity carries an opponent activity event.
	SessionActivity SessionEventKind = "activity"
	// SessionFinished means the match ended with a result to show.
	SessionFinished SessionEventKind = "finished"
	// SessionAbandoned means the opponent walked away; the player goes back
	// to the queue without seeing a result.
	SessionAbandoned SessionEventKind = "abandoned"
)

type SessionEvent struct {
	Kind     SessionEventKind
	Match    models.Match
	Activity *models.MatchEvent
}

// SubmitResult is the outcome of one answer.
type SubmitResult struct {
	Correct  bool         `json:"correct"`
	Expected string       `json:"expected,omitempty"`
	Match    models.Match `json:"match"`
}

// statusRank orders match statuses; a reconciled row never moves backwards.
func statusRank(status string) int {
	switch status {
	case models.MatchStatusWaiting:
		return 1
	case models.MatchStatusActive:
		return 2
	case models.MatchStatusFinished:
		return 3
	}
	return 0
}

// newer reports whether next may replace cur as the authoritative row.
func newer(cur, next models.Match) bool {
	if r1, r2 := statusRank(cur.Status), statusRank(next.Status); r1 != r2 {
		return r2 > r1
	}
	if next.UpdatedAt.Before(cur.UpdatedAt) {
		return false
	}
	if next.Player1ChallengeIndex+next.Player2ChallengeIndex < cur.Player1ChallengeIndex+cur.Player2ChallengeIndex {
		return false
	}
	if next.Status == models.MatchStatusFinished {
		// The first finishing write wins; later copies are identical.
		return false
	}
	return true
}

// MatchSession follows one match on behalf of one participant. It listens to
// the match row and its activity events, polls as a fallback (ready state
// while waiting, activity while active), arms the timeout timer and finishes
// the match when a win condition is reached. All state is re-derived from
// the authoritative row.
type MatchSession struct {
	deps   *Deps
	userID string
	buffer *ChallengeBuffer
	emit   func(*MatchSession, SessionEvent)
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	match     models.Match
	closed    bool
	finishing bool
	poll      *realtime.Poller
	timer     clockwork.Timer
	subs      []*realtime.Subscription
	seen      map[string]bool
	since     time.Time
}

func newMatchSession(deps *Deps, m models.Match, userID string, emit func(*MatchSession, SessionEvent)) *MatchSession {
	return &MatchSession{
		deps:   deps,
		userID: userID,
		match:  m,
		buffer: NewChallengeBuffer(deps.Challenges, deps.Config.WorldID, deps.Config.PrefetchLowWater, deps.Config.PrefetchBatch),
		emit:   emit,
		seen:   make(map[string]bool),
		since:  deps.Clock.Now(),
		log: log.With().Str("component", "match").
			Str("match_id", m.ID).Str("user_id", userID).Logger(),
	}
}

// Start loads the first challenges, subscribes to the match and performs an
// initial reconcile. The session lives until Close or Leave, independent of
// the ctx used for the initial load.
func (s *MatchSession) Start(parent context.Context) {
	s.ctx, s.cancel = context.WithCancel(parent)

	if err := s.buffer.Fill(s.ctx); err != nil {
		s.log.Warn().Err(err).Msg("initial challenge fetch failed")
	}

	rows := s.deps.Hub.Subscribe(realtime.Filter{Table: store.TableMatches, Column: "id", Value: s.match.ID})
	events := s.deps.Hub.Subscribe(realtime.Filter{Table: store.TableEvents, Op: realtime.OpInsert, Column: "match_id", Value: s.match.ID})

	s.mu.Lock()
	s.subs = []*realtime.Subscription{rows, events}
	s.mu.Unlock()

	go s.listen(rows, events)
	s.Refresh(s.ctx)
}

func (s *MatchSession) listen(rows, events *realtime.Subscription) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ch, ok := <-rows.C:
			if !ok {
				return
			}
			if ch.Op == realtime.OpDelete {
				s.deleted()
				continue
			}
			if m, isMatch := ch.Record.(models.Match); isMatch {
				s.reconcile(s.ctx, m)
			}
		case ch, ok := <-events.C:
			if !ok {
				return
			}
			if e, isEvent := ch.Record.(models.MatchEvent); isEvent {
				s.activity(e)
			}
		}
	}
}

func (s *MatchSession) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.match.ID
}

// Match returns the latest reconciled row.
func (s *MatchSession) Match() models.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.match
}

// Current returns the challenge the player has to answer now.
func (s *MatchSession) Current() (services.ChallengeInstance, bool) {
	m := s.Match()
	return s.buffer.At(m.ChallengeIndexOf(s.userID))
}

// Refresh refetches the match row and reconciles it.
func (s *MatchSession) Refresh(ctx context.Context) {
	m, err := s.deps.Store.GetMatch(ctx, s.ID())
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.deleted()
	case err != nil:
		s.log.Warn().Err(err).Msg("refetch match")
	default:
		s.reconcile(ctx, m)
	}
}

// MarkReady flags the player ready; the store activates the match once both
// players are ready.
func (s *MatchSession) MarkReady(ctx context.Context) (models.Match, error) {
	if s.isClosed() {
		return models.Match{}, ErrSessionClosed
	}
	m, err := s.deps.Store.MarkReady(ctx, s.ID(), s.userID, s.deps.Clock.Now())
	if err != nil {
		return m, err
	}
	s.reconcile(ctx, m)
	return s.Match(), nil
}

// Submit scores an answer against the player's current challenge.
func (s *MatchSession) Submit(ctx context.Context, answer string) (SubmitResult, error) {
	if s.isClosed() {
		return SubmitResult{}, ErrSessionClosed
	}
	cur := s.Match()
	if cur.Status != models.MatchStatusActive {
		return SubmitResult{Match: cur}, store.ErrMatchNotActive
	}
	idx := cur.ChallengeIndexOf(s.userID)
	inst, ok := s.buffer.At(idx)
	if !ok {
		if err := s.buffer.Fill(ctx); err != nil {
			return SubmitResult{Match: cur}, err
		}
		if inst, ok = s.buffer.At(idx); !ok {
			return SubmitResult{Match: cur}, ErrNoChallenge
		}
	}

	correct := AnswerMatches(answer, inst.Answer)
	m, err := s.deps.Store.ApplySubmission(ctx, cur.ID, s.userID, correct)
	if err != nil {
		if errors.Is(err, store.ErrMatchNotActive) {
			s.reconcile(ctx, m)
		}
		return SubmitResult{Match: m}, err
	}

	kind := models.EventSubmitWrong
	if correct {
		kind = models.EventSubmitCorrect
	}
	s.publishActivity(ctx, kind, map[string]any{"challenge_index": idx})
	s.buffer.Advanced(s.ctx, m.ChallengeIndexOf(s.userID))

	s.reconcile(ctx, m)
	res := SubmitResult{Correct: correct, Match: s.Match()}
	if !correct {
		res.Expected = inst.Answer
	}
	return res, nil
}

// Typing broadcasts the length of the player's current input.
func (s *MatchSession) Typing(ctx context.Context, length int) {
	if s.isClosed() {
		return
	}
	s.publishActivity(ctx, models.EventTyping, map[string]any{"length": length})
}

// publishActivity inserts an activity event. Failures are only logged.
func (s *MatchSession) publishActivity(ctx context.Context, kind string, payload map[string]any) {
	e := &models.MatchEvent{
		MatchID:   s.ID(),
		UserID:    s.userID,
		EventType: kind,
		Payload:   payload,
		CreatedAt: s.deps.Clock.Now(),
	}
	if err := s.deps.Store.InsertEvent(ctx, e); err != nil {
		s.log.Debug().Err(err).Str("event_type", kind).Msg("activity event dropped")
	}
}

// Leave ends the match on the player's behalf: the opponent is declared the
// winner with reason opponent_left. The session is closed first so the
// player never sees its own departure as a result. The player who stays
// reads the row as a win by opponent_left naming itself, and reconcile
// turns exactly that into SessionAbandoned rather than a result.
func (s *MatchSession) Leave(ctx context.Context) (models.Match, error) {
	cur := s.Match()
	s.Close()
	if !cur.IsOpen() {
		return cur, nil
	}
	opponentID, _ := cur.Opponent(s.userID)
	m, err := s.deps.finalize(ctx, cur.ID, opponentID, models.WinReasonOpponentLeft)
	if errors.Is(err, store.ErrNotFound) {
		return cur, nil
	}
	return m, err
}

// Close stops every listener, poller and timer of the session.
func (s *MatchSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimersLocked()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	for _, sub := range subs {
		sub.Close()
	}
}

func (s *MatchSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MatchSession) stopTimersLocked() {
	s.poll.Stop()
	s.poll = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

type pendingWin struct {
	winnerID string
	reason   string
}

// reconcile applies m if it is newer than what the session holds, moves the
// session between lifecycle phases and finishes the match when a win
// condition holds.
func (s *MatchSession) reconcile(ctx context.Context, m models.Match) {
	var (
		events []SessionEvent
		win    *pendingWin
	)

	s.mu.Lock()
	if s.closed || m.ID != s.match.ID || !s.acceptLocked(m) {
		s.mu.Unlock()
		return
	}
	prev := s.match.Status
	s.match = m

	switch m.Status {
	case models.MatchStatusWaiting:
		if s.poll == nil {
			s.poll = realtime.Every(s.ctx, s.deps.Clock, s.deps.Config.ReadyPoll, s.Refresh)
		}
		events = append(events, SessionEvent{Kind: SessionUpdated, Match: m})

	case models.MatchStatusActive:
		if prev != models.MatchStatusActive || s.timer == nil {
			s.stopTimersLocked()
			s.poll = realtime.Every(s.ctx, s.deps.Clock, s.deps.Config.ActivityPoll, s.pollActivity)
			s.timer = s.deps.Clock.AfterFunc(TimeLeft(m, s.deps.Clock.Now()), func() { s.Refresh(s.ctx) })
			s.log.Debug().Msg("match active")
		}
		events = append(events, SessionEvent{Kind: SessionUpdated, Match: m})
		if winner, reason, ok := CheckWin(m, s.deps.Clock.Now()); ok && !s.finishing {
			s.finishing = true
			win = &pendingWin{winnerID: winner, reason: reason}
		}

	case models.MatchStatusFinished:
		s.closeLocked()
		kind := SessionFinished
		// The leaver names the opponent as winner; see Leave.
		if m.WinnerReason == models.WinReasonOpponentLeft && m.WinnerID == s.userID {
			kind = SessionAbandoned
		}
		events = append(events, SessionEvent{Kind: kind, Match: m})
	}
	s.mu.Unlock()

	s.dispatch(events)
	if win != nil {
		s.finish(ctx, *win)
	}
}

// acceptLocked decides whether m replaces the held row. A row equal in
// status is accepted on first sight so the initial reconcile arms pollers.
func (s *MatchSession) acceptLocked(m models.Match) bool {
	if s.poll == nil && s.timer == nil && m.Status == s.match.Status && m.Status != models.MatchStatusFinished {
		return !m.UpdatedAt.Before(s.match.UpdatedAt)
	}
	return newer(s.match, m)
}

// closeLocked ends the session from inside reconcile; subscriptions are
// released asynchronously because the listener may be the caller.
func (s *MatchSession) closeLocked() {
	s.closed = true
	s.stopTimersLocked()
	subs := s.subs
	s.subs = nil
	cancel := s.cancel
	go func() {
		if cancel != nil {
			cancel()
		}
		for _, sub := range subs {
			sub.Close()
		}
	}()
}

func (s *MatchSession) finish(ctx context.Context, w pendingWin) {
	m, err := s.deps.finalize(ctx, s.ID(), w.winnerID, w.reason)
	if err != nil {
		s.log.Warn().Err(err).Str("reason", w.reason).Msg("finish match")
		s.mu.Lock()
		s.finishing = false
		s.mu.Unlock()
		return
	}
	s.reconcile(ctx, m)
}

// deleted handles the match row disappearing: the opponent cleaned it up
// after walking away, so the player is sent back to the queue.
func (s *MatchSession) deleted() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	m := s.match
	s.closeLocked()
	s.mu.Unlock()

	s.log.Info().Msg("match row removed by opponent")
	s.dispatch([]SessionEvent{{Kind: SessionAbandoned, Match: m}})
}

func (s *MatchSession) pollActivity(ctx context.Context) {
	s.mu.Lock()
	since := s.since
	id := s.match.ID
	s.mu.Unlock()

	// Look back a little; events already forwarded are skipped by id.
	events, err := s.deps.Store.EventsSince(ctx, id, s.userID, since.Add(-time.Second))
	if err != nil {
		s.log.Debug().Err(err).Msg("poll activity")
	}
	for _, e := range events {
		s.activity(e)
	}
	s.Refresh(ctx)
}

// activity forwards an opponent event once, whichever channel delivered it.
func (s *MatchSession) activity(e models.MatchEvent) {
	if e.UserID == s.userID {
		return
	}
	s.mu.Lock()
	if s.closed || s.seen[e.ID] {
		s.mu.Unlock()
		return
	}
	s.seen[e.ID] = true
	if e.CreatedAt.After(s.since) {
		s.since = e.CreatedAt
	}
	m := s.match
	s.mu.Unlock()

	ev := e
	s.dispatch([]SessionEvent{{Kind: SessionActivity, Match: m, Activity: &ev}})
}

func (s *MatchSession) dispatch(events []SessionEvent) {
	if s.emit == nil {
		return
	}
	for _, ev := range events {
		s.emit(s, ev)
	}
}
