package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"

	"git-arcade/models"
	"git-arcade/store"
)

const (
	MessageCorrect   = "Correct!"
	MessageIncorrect = "Incorrect command. Try again!"
)

type ValidateRequest struct {
	ChallengeID    int      `json:"challengeId"`
	CurrentStateID int      `json:"currentStateId"`
	Command        string   `json:"command"`
	Variables      Bindings `json:"variables"`
}

// ValidationResult reports a validation outcome. A miss is Success=false,
// never an error, and the state does not advance.
type ValidationResult struct {
	Success       bool   `json:"success"`
	CommandOutput string `json:"commandOutput"`
	NextStateID   int    `json:"nextStateId,omitempty"`
	NextStatus    string `json:"nextStatus,omitempty"`
	IsFinalStep   bool   `json:"isFinalStep"`
	Message       string `json:"message,omitempty"`
}

// NormalizeCommand trims, collapses inner whitespace and case-folds s.
func NormalizeCommand(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// Validate checks command against the challenge at currentStateID. When the
// challenge has an answer template covering the current step, only the exact
// answer is accepted; the transitions' regular expressions are tried in row
// order only when no such step exists. The outcome depends only on the
// request and the reference data.
func (s *ChallengeService) Validate(ctx context.Context, req ValidateRequest) (ValidationResult, error) {
	ch, err := s.Store.GetChallenge(ctx, req.ChallengeID)
	if err != nil {
		return ValidationResult{}, err
	}
	transitions, err := s.Store.TransitionsFrom(ctx, req.ChallengeID, req.CurrentStateID)
	if err != nil {
		return ValidationResult{}, err
	}
	miss := ValidationResult{Message: MessageIncorrect}
	if len(transitions) == 0 {
		return miss, nil
	}

	if step, ok := expectedStep(ch, transitions[0]); ok {
		if NormalizeCommand(req.Command) != NormalizeCommand(Substitute(step, req.Variables)) {
			return miss, nil
		}
		return s.advance(ctx, transitions[0], req.Variables)
	}
	if t, ok := patternMatch(ch.ID, transitions, req.Command, req.Variables); ok {
		return s.advance(ctx, t, req.Variables)
	}
	return miss, nil
}

// expectedStep returns the answer template step that t expects, if the
// challenge has one for t's step order.
func expectedStep(ch models.Challenge, t models.ValidTransition) (string, bool) {
	steps := AnswerSteps(ch)
	idx := t.StepOrder - 1
	if idx < 0 || idx >= len(steps) {
		return "", false
	}
	return steps[idx], true
}

func patternMatch(challengeID int, transitions []models.ValidTransition, command string, b Bindings) (models.ValidTransition, bool) {
	command = strings.TrimSpace(command)
	for _, t := range transitions {
		if strings.TrimSpace(t.AnswerPattern) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + SubstitutePattern(t.AnswerPattern, b))
		if err != nil {
			log.Warn().Err(err).Str("component", "challenges").
				Int("challenge_id", challengeID).Uint("transition_id", t.ID).
				Msg("malformed answer pattern, skipping")
			continue
		}
		if re.MatchString(command) {
			return t, true
		}
	}
	return models.ValidTransition{}, false
}

func (s *ChallengeService) advance(ctx context.Context, t models.ValidTransition, b Bindings) (ValidationResult, error) {
	res := ValidationResult{
		Success:       true,
		CommandOutput: Substitute(t.CommandOutput, b),
		NextStateID:   t.NextStateID,
		IsFinalStep:   t.IsFinalStep,
		Message:       MessageCorrect,
	}
	st, err := s.Store.GetState(ctx, t.NextStateID)
	switch {
	case err == nil:
		res.NextStatus = Substitute(st.StatusTemplate, b)
	case errors.Is(err, store.ErrNotFound):
		log.Warn().Str("component", "challenges").Int("state_id", t.NextStateID).Msg("next state missing")
	default:
		return ValidationResult{}, err
	}
	return res, nil
}

// AnswerStep is one line of a challenge's answer sheet.
type AnswerStep struct {
	StepOrder      int    `json:"step_order"`
	Command        string `json:"command,omitempty"`
	Pattern        string `json:"pattern,omitempty"`
	CurrentStateID int    `json:"current_state_id"`
	NextStateID    int    `json:"next_state_id"`
	Output         string `json:"output,omitempty"`
	IsFinalStep    bool   `json:"is_final_step"`
}

type AnswerSheet struct {
	ChallengeID int          `json:"challenge_id"`
	IsMultiStep bool         `json:"is_multi_step"`
	Answers     []string     `json:"answers"`
	Steps       []AnswerStep `json:"steps"`
}

// AnswersFor renders the expected commands and transitions of a challenge
// with b; tokens missing from b are left in place.
func (s *ChallengeService) AnswersFor(ctx context.Context, challengeID int, b Bindings) (AnswerSheet, error) {
	ch, err := s.Store.GetChallenge(ctx, challengeID)
	if err != nil {
		return AnswerSheet{}, err
	}
	transitions, err := s.Store.TransitionsByChallenge(ctx, challengeID)
	if err != nil {
		return AnswerSheet{}, err
	}
	sheet := AnswerSheet{ChallengeID: ch.ID, IsMultiStep: ch.IsMultiStep, Answers: []string{}, Steps: []AnswerStep{}}
	expected := AnswerSteps(ch)
	for _, a := range expected {
		sheet.Answers = append(sheet.Answers, Substitute(a, b))
	}
	for _, t := range transitions {
		step := AnswerStep{
			StepOrder:      t.StepOrder,
			Pattern:        t.AnswerPattern,
			CurrentStateID: t.CurrentStateID,
			NextStateID:    t.NextStateID,
			Output:         Substitute(t.CommandOutput, b),
			IsFinalStep:    t.IsFinalStep,
		}
		if i := t.StepOrder - 1; i >= 0 && i < len(sheet.Answers) {
			step.Command = sheet.Answers[i]
		}
		sheet.Steps = append(sheet.Steps, step)
	}
	return sheet, nil
}
