package services

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"git-arcade/models"
	"git-arcade/store"
)

const (
	defaultBatchSize = 10
	maxBatchSize     = 50
)

// ChallengeInstance is a challenge with one concrete set of variable bindings.
// Question, status and answers are all rendered from Variables.
type ChallengeInstance struct {
	ChallengeID    int      `json:"challenge_id"`
	WorldID        int      `json:"world_id"`
	Question       string   `json:"question"`
	CurrentStatus  string   `json:"current_status"`
	CurrentStateID int      `json:"current_state_id"`
	Variables      Bindings `json:"variables"`
	IsMultiStep    bool     `json:"is_multi_step"`
	Points         int      `json:"points"`
	Difficulty     string   `json:"difficulty"`
	TimerSeconds   int      `json:"timer_seconds"`

	// Answer is the materialized correct answer template; Steps is the same
	// split into ordered commands. Neither is sent to players.
	Answer string   `json:"-"`
	Steps  []string `json:"-"`
}

// ChallengeService picks and materializes challenges and validates commands.
type ChallengeService struct {
	Store store.ReferenceStore
	Vars  *VariableCache

	mu         sync.Mutex
	lastServed int
}

func NewChallengeService(s store.ReferenceStore, vars *VariableCache) *ChallengeService {
	return &ChallengeService{Store: s, Vars: vars}
}

// AnswerSteps splits a challenge's answer template into its ordered steps.
func AnswerSteps(c models.Challenge) []string {
	tmpl := strings.TrimSpace(c.CorrectAnswerTemplate)
	if tmpl == "" {
		return nil
	}
	if !c.IsMultiStep {
		return []string{tmpl}
	}
	var steps []string
	for _, part := range strings.Split(tmpl, models.StepSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			steps = append(steps, part)
		}
	}
	return steps
}

func (s *ChallengeService) materialize(ctx context.Context, c models.Challenge, st models.GitState) ChallengeInstance {
	b := s.Vars.Bind(ctx, c.QuestionTemplate, st.StatusTemplate, c.CorrectAnswerTemplate)
	steps := AnswerSteps(c)
	for i := range steps {
		steps[i] = Substitute(steps[i], b)
	}
	return ChallengeInstance{
		ChallengeID:    c.ID,
		WorldID:        c.WorldID,
		Question:       Substitute(c.QuestionTemplate, b),
		CurrentStatus:  Substitute(st.StatusTemplate, b),
		CurrentStateID: st.ID,
		Variables:      b,
		IsMultiStep:    c.IsMultiStep,
		Points:         c.Points,
		Difficulty:     c.Difficulty,
		TimerSeconds:   c.TimerSeconds,
		Answer:         Substitute(strings.TrimSpace(c.CorrectAnswerTemplate), b),
		Steps:          steps,
	}
}

// RandomChallenges draws count instances from a world without replacement,
// refilling the pool when it runs out and never serving the same challenge
// twice in a row while an alternative exists. Challenges whose start state
// is missing are skipped. An empty world yields an empty slice.
func (s *ChallengeService) RandomChallenges(ctx context.Context, worldID, count int) ([]ChallengeInstance, error) {
	out := []ChallengeInstance{}
	if count <= 0 {
		return out, nil
	}
	all, err := s.Store.ChallengesByWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return out, nil
	}

	ids := make([]int, 0, len(all))
	for _, c := range all {
		ids = append(ids, c.StartStateID)
	}
	states, err := s.Store.StatesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]models.GitState, len(states))
	for _, st := range states {
		byID[st.ID] = st
	}

	usable := make([]models.Challenge, 0, len(all))
	for _, c := range all {
		if _, ok := byID[c.StartStateID]; !ok {
			log.Warn().Str("component", "challenges").
				Int("challenge_id", c.ID).Int("state_id", c.StartStateID).
				Msg("start state missing, skipping challenge")
			continue
		}
		usable = append(usable, c)
	}
	if len(usable) == 0 {
		return out, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var pool []models.Challenge
	for len(out) < count {
		if len(pool) == 0 {
			pool = append(pool, usable...)
		}
		candidates := make([]int, 0, len(pool))
		for i, c := range pool {
			if len(pool) == 1 || c.ID != s.lastServed {
				candidates = append(candidates, i)
			}
		}
		pick := candidates[rand.Intn(len(candidates))]
		c := pool[pick]
		pool = append(pool[:pick], pool[pick+1:]...)

		out = append(out, s.materialize(ctx, c, byID[c.StartStateID]))
		s.lastServed = c.ID
	}
	return out, nil
}

// RandomChallenge serves a single instance, or nil when the world is empty.
func (s *ChallengeService) RandomChallenge(ctx context.Context, worldID int) (*ChallengeInstance, error) {
	list, err := s.RandomChallenges(ctx, worldID, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// FindWorld resolves a world by numeric id or by slug.
func (s *ChallengeService) FindWorld(ctx context.Context, idOrSlug string) (models.World, error) {
	if id, err := strconv.Atoi(idOrSlug); err == nil {
		return s.Store.GetWorld(ctx, id)
	}
	return s.Store.GetWorldBySlug(ctx, strings.ToLower(idOrSlug))
}

// ---- HTTP handlers ----

func worldIDParam(c *fiber.Ctx) (int, error) {
	return strconv.Atoi(c.Params("worldId"))
}

func (s *ChallengeService) GetWorlds(c *fiber.Ctx) error {
	worlds, err := s.Store.ListWorlds(c.UserContext())
	if err != nil {
		log.Error().Err(err).Str("component", "challenges").Msg("list worlds")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load worlds"})
	}
	return c.JSON(worlds)
}

func (s *ChallengeService) GetWorld(c *fiber.Ctx) error {
	w, err := s.FindWorld(c.UserContext(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "world not found"})
	}
	if err != nil {
		log.Error().Err(err).Str("component", "challenges").Msg("get world")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load world"})
	}
	return c.JSON(w)
}

func (s *ChallengeService) GetRandomChallenge(c *fiber.Ctx) error {
	worldID, err := worldIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid world id"})
	}
	inst, err := s.RandomChallenge(c.UserContext(), worldID)
	if err != nil {
		log.Error().Err(err).Str("component", "challenges").Int("world_id", worldID).Msg("random challenge")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to generate challenge"})
	}
	if inst == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no challenges in this world"})
	}
	return c.JSON(inst)
}

func (s *ChallengeService) GetChallengeBatch(c *fiber.Ctx) error {
	worldID, err := worldIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid world id"})
	}
	count := c.QueryInt("count", defaultBatchSize)
	if count < 1 {
		count = 1
	}
	if count > maxBatchSize {
		count = maxBatchSize
	}
	list, err := s.RandomChallenges(c.UserContext(), worldID, count)
	if err != nil {
		log.Error().Err(err).Str("component", "challenges").Int("world_id", worldID).Msg("challenge batch")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to generate challenges"})
	}
	return c.JSON(list)
}

func (s *ChallengeService) ValidateCommand(c *fiber.Ctx) error {
	var req ValidateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.ChallengeID == 0 || req.CurrentStateID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "challengeId and currentStateId are required"})
	}
	res, err := s.Validate(c.UserContext(), req)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "challenge not found"})
	}
	if err != nil {
		log.Error().Err(err).Str("component", "challenges").Int("challenge_id", req.ChallengeID).Msg("validate")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "validation failed"})
	}
	return c.JSON(res)
}

// GetAnswers serves the answer sheet of a challenge. Bindings may be passed
// as a JSON object in the variables query parameter.
func (s *ChallengeService) GetAnswers(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid challenge id"})
	}
	var b Bindings
	if raw := c.Query("variables"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "variables must be a JSON object"})
		}
	}
	sheet, err := s.AnswersFor(c.UserContext(), id, b)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "challenge not found"})
	}
	if err != nil {
		log.Error().Err(err).Str("component", "challenges").Int("challenge_id", id).Msg("answers")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load answers"})
	}
	return c.JSON(sheet)
}

func (s *ChallengeService) ReloadVariables(c *fiber.Ctx) error {
	if err := s.Vars.Reload(c.UserContext()); err != nil {
		log.Error().Err(err).Str("component", "challenges").Msg("reload variables")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to reload variables"})
	}
	return c.JSON(fiber.Map{"status": "reloaded"})
}
