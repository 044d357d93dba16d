package multiplayer

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"git-arcade/models"
	"git-arcade/realtime"
	"git-arcade/store"
)

var ErrSelfInvite = errors.New("cannot invite yourself")

const searchLimit = 20

// InviteService lets players challenge a specific opponent. The sender's
// player is moved into the match once the receiver accepts; acceptance is
// observed on the invites feed with a poll of the invite row as fallback.
type InviteService struct {
	deps    *Deps
	players *Registry
	base    context.Context
	log     zerolog.Logger

	mu       sync.Mutex
	trackers map[string]*inviteTracker
}

func NewInviteService(base context.Context, deps *Deps, players *Registry) *InviteService {
	return &InviteService{
		deps:     deps,
		players:  players,
		base:     base,
		log:      log.With().Str("component", "matchmaking").Logger(),
		trackers: make(map[string]*inviteTracker),
	}
}

// Search lists other players whose username contains query.
func (s *InviteService) Search(ctx context.Context, userID, query string) ([]models.Profile, error) {
	out, err := s.deps.Store.SearchProfiles(ctx, query, userID, searchLimit)
	if out == nil {
		out = []models.Profile{}
	}
	return out, err
}

func (s *InviteService) Pending(ctx context.Context, userID string) ([]models.Invite, error) {
	out, err := s.deps.Store.PendingInvites(ctx, userID, s.deps.Clock.Now())
	if out == nil {
		out = []models.Invite{}
	}
	return out, err
}

// Send creates a pending invite from sender to receiverID.
func (s *InviteService) Send(ctx context.Context, senderID, senderName, receiverID string) (models.Invite, error) {
	if senderID == receiverID {
		return models.Invite{}, ErrSelfInvite
	}
	receiver, err := s.deps.Store.GetProfile(ctx, receiverID)
	if err != nil {
		return models.Invite{}, err
	}
	now := s.deps.Clock.Now()
	inv := &models.Invite{
		SenderID:         senderID,
		SenderUsername:   senderName,
		ReceiverID:       receiver.UserID,
		ReceiverUsername: receiver.Username,
		ExpiresAt:        now.Add(s.deps.Config.InviteTTL),
	}
	if err := s.deps.Store.CreateInvite(ctx, inv, now); err != nil {
		return models.Invite{}, err
	}
	s.log.Info().Str("invite_id", inv.ID).Str("sender_id", senderID).Str("receiver_id", receiverID).Msg("invite sent")

	// The receiver hears about it from the invites feed.
	s.track(*inv)
	return *inv, nil
}

// Accept creates (or adopts) the pair's match and moves the receiver into it.
// The invite stays pending while either player is busy with another match.
func (s *InviteService) Accept(ctx context.Context, inviteID, receiverID, receiverName string) (models.Invite, models.Match, error) {
	pending, err := s.deps.Store.GetInvite(ctx, inviteID)
	if err != nil {
		return models.Invite{}, models.Match{}, err
	}
	receiver := s.players.Get(receiverID, receiverName)
	if receiver.InMatch() {
		return pending, models.Match{}, ErrInMatch
	}
	if sender, ok := s.players.Lookup(pending.SenderID); ok && sender.InMatch() {
		return pending, models.Match{}, ErrInMatch
	}
	p := s.deps.matchParams(pending.SenderID, pending.SenderUsername, receiverID, receiverName)
	inv, m, err := s.deps.Store.AcceptInvite(ctx, inviteID, receiverID, p, s.deps.Clock.Now())
	if err != nil {
		return inv, m, err
	}
	s.log.Info().Str("invite_id", inv.ID).Str("match_id", m.ID).Msg("invite accepted")

	if err := receiver.AdoptInvited(m); err != nil {
		s.abandon(ctx, m, receiverID)
		return inv, m, err
	}
	if sender, ok := s.players.Lookup(inv.SenderID); ok {
		s.moveSender(ctx, sender, m)
		sender.Notify(Update{Type: UpdateInvite, Data: inv})
	}
	return inv, m, nil
}

// moveSender follows the sender into m. A sender who started playing
// another match in the meantime gives m up instead.
func (s *InviteService) moveSender(ctx context.Context, sender *Player, m models.Match) {
	if err := sender.AdoptInvited(m); errors.Is(err, ErrInMatch) {
		s.abandon(ctx, m, sender.UserID)
	}
}

// abandon leaves m on behalf of userID, who is playing elsewhere.
func (s *InviteService) abandon(ctx context.Context, m models.Match, userID string) {
	s.log.Info().Str("match_id", m.ID).Str("user_id", userID).Msg("player busy, leaving invited match")
	opponentID, _ := m.Opponent(userID)
	if _, err := s.deps.finalize(context.WithoutCancel(ctx), m.ID, opponentID, models.WinReasonOpponentLeft); err != nil {
		s.log.Warn().Err(err).Str("match_id", m.ID).Msg("leave invited match")
	}
}

func (s *InviteService) Reject(ctx context.Context, inviteID, receiverID string) (models.Invite, error) {
	inv, err := s.deps.Store.RejectInvite(ctx, inviteID, receiverID)
	if err != nil {
		return inv, err
	}
	s.notify(inv.SenderID, inv)
	return inv, nil
}

func (s *InviteService) Cancel(ctx context.Context, inviteID, senderID string) (models.Invite, error) {
	inv, err := s.deps.Store.CancelInvite(ctx, inviteID, senderID)
	if err != nil {
		return inv, err
	}
	s.untrack(inv.ID)
	s.notify(inv.ReceiverID, inv)
	return inv, nil
}

func (s *InviteService) notify(userID string, inv models.Invite) {
	if p, ok := s.players.Lookup(userID); ok {
		p.Notify(Update{Type: UpdateInvite, Data: inv})
	}
}

// Tracking returns the number of invites whose outcome is being watched.
func (s *InviteService) Tracking() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trackers)
}

// Close stops every tracker.
func (s *InviteService) Close() {
	s.mu.Lock()
	trackers := s.trackers
	s.trackers = make(map[string]*inviteTracker)
	s.mu.Unlock()
	for _, t := range trackers {
		t.stop()
	}
}

type inviteTracker struct {
	cancel context.CancelFunc
	sub    *realtime.Subscription
	poll   *realtime.Poller
	once   sync.Once
}

func (t *inviteTracker) stop() {
	t.once.Do(func() {
		t.cancel()
		t.poll.Stop()
		t.sub.Close()
	})
}

// track watches an invite until it leaves the pending state or expires.
func (s *InviteService) track(inv models.Invite) {
	ctx, cancel := context.WithCancel(s.base)
	t := &inviteTracker{cancel: cancel}
	t.sub = s.deps.Hub.Subscribe(realtime.Filter{Table: store.TableInvites, Op: realtime.OpUpdate, Column: "id", Value: inv.ID})

	var mu sync.Mutex
	settle := func(cur models.Invite) {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if cur.Status == models.InviteStatusPending {
			if s.deps.Clock.Now().After(cur.ExpiresAt.Add(s.deps.Config.InvitePoll)) {
				s.untrack(cur.ID)
			}
			return
		}
		s.untrack(cur.ID)
		s.settled(ctx, cur)
	}

	t.poll = realtime.Every(ctx, s.deps.Clock, s.deps.Config.InvitePoll, func(ctx context.Context) {
		cur, err := s.deps.Store.GetInvite(ctx, inv.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.untrack(inv.ID)
			}
			return
		}
		settle(cur)
	})

	s.mu.Lock()
	s.trackers[inv.ID] = t
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ch, ok := <-t.sub.C:
				if !ok {
					return
				}
				if cur, isInvite := ch.Record.(models.Invite); isInvite {
					settle(cur)
				}
			}
		}
	}()
}

func (s *InviteService) untrack(id string) {
	s.mu.Lock()
	t, ok := s.trackers[id]
	delete(s.trackers, id)
	s.mu.Unlock()
	if ok {
		t.stop()
	}
}

// settled tells the sender how the invite ended and, on acceptance, moves
// them into the match.
func (s *InviteService) settled(ctx context.Context, inv models.Invite) {
	sender, ok := s.players.Lookup(inv.SenderID)
	if !ok {
		return
	}
	if inv.Status == models.InviteStatusAccepted && inv.MatchID != "" {
		m, err := s.deps.Store.GetMatch(context.WithoutCancel(ctx), inv.MatchID)
		if err != nil {
			s.log.Warn().Err(err).Str("invite_id", inv.ID).Msg("load accepted match")
		} else {
			s.moveSender(ctx, sender, m)
		}
	}
	sender.Notify(Update{Type: UpdateInvite, Data: inv})
}
