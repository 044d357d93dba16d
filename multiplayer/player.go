package multiplayer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"git-arcade/models"
	"git-arcade/services"
)

var (
	ErrNoMatch = errors.New("not in a match")
	ErrInMatch = errors.New("already playing a match")
)

// Phase is what the player currently sees.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseQueued  Phase = "queued"
	PhaseLobby   Phase = "lobby"
	PhasePlaying Phase = "playing"
	PhaseResult  Phase = "result"
)

func phaseFor(m models.Match) Phase {
	switch m.Status {
	case models.MatchStatusWaiting:
		return PhaseLobby
	case models.MatchStatusActive:
		return PhasePlaying
	}
	return PhaseResult
}

type OpponentView struct {
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Typing     int    `json:"typing_length"`
	LastResult string `json:"last_result,omitempty"`
}

type Result struct {
	Won           bool   `json:"won"`
	WinnerID      string `json:"winner_id"`
	Reason        string `json:"reason"`
	Score         int    `json:"score"`
	OpponentScore int    `json:"opponent_score"`
}

func resultFor(m models.Match, userID string) *Result {
	oppID, _ := m.Opponent(userID)
	return &Result{
		Won:           m.WinnerID == userID,
		WinnerID:      m.WinnerID,
		Reason:        m.WinnerReason,
		Score:         m.ScoreOf(userID),
		OpponentScore: m.ScoreOf(oppID),
	}
}

// Snapshot is the complete client-facing state of one player.
type Snapshot struct {
	Phase           Phase                       `json:"phase"`
	Match           *models.Match               `json:"match,omitempty"`
	Challenge       *services.ChallengeInstance `json:"challenge,omitempty"`
	TimeLeftSeconds int                         `json:"time_left_seconds,omitempty"`
	Opponent        *OpponentView               `json:"opponent,omitempty"`
	Result          *Result                     `json:"result,omitempty"`
	Requeued        bool                        `json:"requeued,omitempty"`
}

// Update is one message on a player's stream.
type Update struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	UpdateSnapshot = "snapshot"
	UpdateActivity = "activity"
	UpdateInvite   = "invite"
)

// Player owns one user's multiplayer state: the queue wait, the match
// session and the streams following them. User actions are serialized.
type Player struct {
	UserID   string
	Username string

	deps  *Deps
	coord *Coordinator
	base  context.Context
	log   zerolog.Logger

	act sync.Mutex

	mu        sync.Mutex
	phase     Phase
	wait      *QueueWait
	session   *MatchSession
	lastMatch *models.Match
	result    *Result
	opponent  OpponentView
	requeued  bool
	subs      map[chan Update]struct{}

	// seen is guarded by Registry.mu.
	seen time.Time
}

func newPlayer(base context.Context, deps *Deps, coord *Coordinator, userID, username string) *Player {
	return &Player{
		UserID:   userID,
		Username: username,
		deps:     deps,
		coord:    coord,
		base:     base,
		phase:    PhaseIdle,
		subs:     make(map[chan Update]struct{}),
		log:      log.With().Str("component", "sync").Str("user_id", userID).Logger(),
	}
}

// JoinQueue enters matchmaking. A pending lobby is abandoned; an active
// match must be left first.
func (p *Player) JoinQueue(ctx context.Context) (Snapshot, error) {
	p.act.Lock()
	defer p.act.Unlock()

	p.mu.Lock()
	if p.session != nil && p.session.Match().Status == models.MatchStatusActive {
		p.mu.Unlock()
		return p.Snapshot(), ErrInMatch
	}
	sess, w := p.session, p.wait
	p.session, p.wait = nil, nil
	p.requeued = false
	p.mu.Unlock()

	w.Stop()
	if sess != nil {
		sess.Close()
	}
	if err := p.join(ctx); err != nil {
		return p.Snapshot(), err
	}
	return p.Snapshot(), nil
}

// join enqueues the player and either adopts a match or starts waiting.
// Callers hold p.act.
func (p *Player) join(ctx context.Context) error {
	p.mu.Lock()
	p.phase = PhaseQueued
	p.result = nil
	p.lastMatch = nil
	p.mu.Unlock()

	m, err := p.coord.JoinQueue(ctx, p.UserID, p.Username)
	if err != nil {
		p.setPhase(PhaseIdle)
		return err
	}
	if m != nil {
		return p.adopt(*m)
	}

	w := p.coord.Wait(p.base, p.UserID, p.Username, p.Adopt)
	p.mu.Lock()
	if p.phase == PhaseQueued && p.session == nil {
		p.wait = w
	} else {
		defer w.Stop()
	}
	p.mu.Unlock()
	p.broadcastSnapshot()
	return nil
}

// LeaveQueue stops waiting for an opponent.
func (p *Player) LeaveQueue(ctx context.Context) (Snapshot, error) {
	p.act.Lock()
	defer p.act.Unlock()

	p.mu.Lock()
	w := p.wait
	p.wait = nil
	if p.phase == PhaseQueued {
		p.phase = PhaseIdle
	}
	p.mu.Unlock()

	w.Stop()
	if err := p.coord.LeaveQueue(ctx, p.UserID); err != nil {
		return p.Snapshot(), err
	}
	p.broadcastSnapshot()
	return p.Snapshot(), nil
}

// Adopt makes m the player's current match. Adopting the match already
// followed is a no-op, and an active match is never replaced.
func (p *Player) Adopt(m models.Match) {
	if err := p.adopt(m); err != nil {
		p.log.Warn().Err(err).Str("match_id", m.ID).Msg("match not adopted")
	}
}

// AdoptInvited moves the player into a match created from an invite. It is
// serialized with the player's own actions; ErrInMatch means the player
// kept playing another match.
func (p *Player) AdoptInvited(m models.Match) error {
	p.act.Lock()
	defer p.act.Unlock()
	return p.adopt(m)
}

// InMatch reports whether the player is playing an active match.
func (p *Player) InMatch() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil && p.session.Match().Status == models.MatchStatusActive
}

func (p *Player) adopt(m models.Match) error {
	if !m.IsParticipant(p.UserID) || !m.IsOpen() {
		return nil
	}
	p.mu.Lock()
	if p.session != nil && p.session.ID() == m.ID {
		p.mu.Unlock()
		return nil
	}
	if p.session != nil && p.session.Match().Status == models.MatchStatusActive {
		p.mu.Unlock()
		return ErrInMatch
	}
	old, w := p.session, p.wait
	sess := newMatchSession(p.deps, m, p.UserID, p.onSessionEvent)
	oppID, oppName := m.Opponent(p.UserID)
	p.session, p.wait = sess, nil
	p.phase = phaseFor(m)
	p.result = nil
	p.lastMatch = nil
	p.opponent = OpponentView{UserID: oppID, Username: oppName}
	p.mu.Unlock()

	w.Stop()
	if old != nil {
		// A lobby that was never played is given up like any other.
		if _, err := old.Leave(p.base); err != nil {
			p.log.Warn().Err(err).Str("match_id", old.ID()).Msg("leave lobby")
		}
	}
	p.log.Info().Str("match_id", m.ID).Str("opponent_id", oppID).Msg("joined match")
	sess.Start(p.base)
	p.broadcastSnapshot()
	return nil
}

func (p *Player) current() (*MatchSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, ErrNoMatch
	}
	return p.session, nil
}

func (p *Player) Ready(ctx context.Context) (Snapshot, error) {
	sess, err := p.current()
	if err != nil {
		return p.Snapshot(), err
	}
	if _, err := sess.MarkReady(ctx); err != nil {
		return p.Snapshot(), err
	}
	return p.Snapshot(), nil
}

func (p *Player) Submit(ctx context.Context, answer string) (SubmitResult, Snapshot, error) {
	sess, err := p.current()
	if err != nil {
		return SubmitResult{}, p.Snapshot(), err
	}
	res, err := sess.Submit(ctx, answer)
	return res, p.Snapshot(), err
}

func (p *Player) Typing(ctx context.Context, length int) error {
	sess, err := p.current()
	if err != nil {
		return err
	}
	sess.Typing(ctx, length)
	return nil
}

// ChangeOpponent gives up the current match and goes straight back to the
// queue.
func (p *Player) ChangeOpponent(ctx context.Context) (Snapshot, error) {
	p.act.Lock()
	defer p.act.Unlock()

	p.mu.Lock()
	sess := p.session
	p.session = nil
	p.mu.Unlock()
	if sess == nil {
		return p.Snapshot(), ErrNoMatch
	}
	if _, err := sess.Leave(ctx); err != nil {
		p.log.Warn().Err(err).Str("match_id", sess.ID()).Msg("leave match")
	}
	if err := p.join(ctx); err != nil {
		return p.Snapshot(), err
	}
	return p.Snapshot(), nil
}

// Cancel leaves the current match and the queue.
func (p *Player) Cancel(ctx context.Context) (Snapshot, error) {
	p.act.Lock()
	defer p.act.Unlock()

	p.mu.Lock()
	sess, w := p.session, p.wait
	p.session, p.wait = nil, nil
	p.phase = PhaseIdle
	p.result = nil
	p.lastMatch = nil
	p.requeued = false
	p.mu.Unlock()

	w.Stop()
	if sess != nil {
		if _, err := sess.Leave(ctx); err != nil {
			p.log.Warn().Err(err).Str("match_id", sess.ID()).Msg("leave match")
		}
	}
	err := p.coord.LeaveQueue(ctx, p.UserID)
	p.broadcastSnapshot()
	return p.Snapshot(), err
}

func (p *Player) onSessionEvent(sess *MatchSession, ev SessionEvent) {
	var (
		update  *Update
		requeue bool
	)
	p.mu.Lock()
	if p.session != sess {
		p.mu.Unlock()
		return
	}
	switch ev.Kind {
	case SessionUpdated:
		p.phase = phaseFor(ev.Match)
	case SessionActivity:
		switch ev.Activity.EventType {
		case models.EventTyping:
			p.opponent.Typing = payloadInt(ev.Activity.Payload, "length")
		case models.EventSubmitCorrect:
			p.opponent.LastResult = "correct"
			p.opponent.Typing = 0
		case models.EventSubmitWrong:
			p.opponent.LastResult = "wrong"
			p.opponent.Typing = 0
		}
		update = &Update{Type: UpdateActivity, Data: p.opponent}
	case SessionFinished:
		m := ev.Match
		p.session = nil
		p.lastMatch = &m
		p.phase = PhaseResult
		p.result = resultFor(m, p.UserID)
	case SessionAbandoned:
		p.session = nil
		p.phase = PhaseQueued
		p.requeued = true
		requeue = true
	}
	p.mu.Unlock()

	if update != nil {
		p.Notify(*update)
	} else {
		p.broadcastSnapshot()
	}
	if requeue {
		p.log.Info().Str("match_id", ev.Match.ID).Msg("opponent left, requeueing")
		go p.requeue()
	}
}

// requeue puts the player back into matchmaking after the opponent walked
// away, unless the player did something else in the meantime.
func (p *Player) requeue() {
	p.act.Lock()
	defer p.act.Unlock()

	p.mu.Lock()
	skip := p.phase != PhaseQueued || p.session != nil || p.wait != nil
	p.mu.Unlock()
	if skip {
		return
	}
	if err := p.join(p.base); err != nil {
		p.log.Warn().Err(err).Msg("requeue")
	}
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (p *Player) setPhase(ph Phase) {
	p.mu.Lock()
	p.phase = ph
	p.mu.Unlock()
}

// Snapshot returns the current state, re-derived from the latest match row.
func (p *Player) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{Phase: p.phase, Result: p.result, Requeued: p.requeued}
	switch {
	case p.session != nil:
		m := p.session.Match()
		snap.Match = &m
		opp := p.opponent
		snap.Opponent = &opp
		if m.Status == models.MatchStatusActive {
			if inst, ok := p.session.Current(); ok {
				snap.Challenge = &inst
			}
			snap.TimeLeftSeconds = int(TimeLeft(m, p.deps.Clock.Now()).Seconds())
		}
	case p.lastMatch != nil:
		m := *p.lastMatch
		snap.Match = &m
	}
	return snap
}

// Refresh refetches the followed match, if any.
func (p *Player) Refresh(ctx context.Context) {
	if sess, err := p.current(); err == nil {
		sess.Refresh(ctx)
	}
}

// Subscribe opens a stream of updates. The first message is a snapshot;
// the match is refetched so that a reconnecting client catches up.
func (p *Player) Subscribe(ctx context.Context) (<-chan Update, func()) {
	ch := make(chan Update, 16)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()

	ch <- Update{Type: UpdateSnapshot, Data: p.Snapshot()}
	p.Refresh(ctx)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			if _, ok := p.subs[ch]; ok {
				delete(p.subs, ch)
				close(ch)
			}
			p.mu.Unlock()
		})
	}
}

// idle reports whether the player holds nothing that would be lost if it
// were dropped.
func (p *Player) idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs) == 0 && p.session == nil && p.wait == nil &&
		(p.phase == PhaseIdle || p.phase == PhaseResult)
}

func (p *Player) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Notify sends u to every stream without blocking; slow streams miss it and
// catch up on the next snapshot.
func (p *Player) Notify(u Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (p *Player) broadcastSnapshot() {
	p.Notify(Update{Type: UpdateSnapshot, Data: p.Snapshot()})
}

// Close stops the player's wait and session without touching the store and
// ends its streams.
func (p *Player) Close() {
	p.mu.Lock()
	sess, w := p.session, p.wait
	p.session, p.wait = nil, nil
	for ch := range p.subs {
		delete(p.subs, ch)
		close(ch)
	}
	p.mu.Unlock()

	w.Stop()
	if sess != nil {
		sess.Close()
	}
}
