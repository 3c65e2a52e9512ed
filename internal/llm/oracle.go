package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

const judgeSystemPrompt = "You evaluate job interview answers. Reply with exactly one word: YES or NO."

// Generator produces a text completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// FollowUpOracle asks a Generator whether an answer warrants a follow-up.
type FollowUpOracle struct {
	gen Generator
}

func NewFollowUpOracle(gen Generator) *FollowUpOracle {
	return &FollowUpOracle{gen: gen}
}

func (o *FollowUpOracle) NeedsFollowUp(ctx context.Context, question, criteria, response string) (bool, error) {
	answer, err := o.gen.Generate(ctx, followUpPrompt(question, criteria, response))
	if err != nil {
		return false, fmt.Errorf("llm: follow-up verdict: %w", err)
	}
	return affirmative(answer), nil
}

func followUpPrompt(question, criteria, response string) string {
	var b strings.Builder
	b.WriteString("Interview question:\n")
	b.WriteString(question)
	if strings.TrimSpace(criteria) != "" {
		b.WriteString("\n\nWhat a good answer covers:\n")
		b.WriteString(criteria)
	}
	b.WriteString("\n\nCandidate answer:\n")
	b.WriteString(response)
	b.WriteString("\n\nIs the answer vague, incomplete or missing concrete examples, so that a follow-up question is needed? Answer YES or NO.")
	return b.String()
}

// affirmative reports whether the first word of answer is "yes".
func affirmative(answer string) bool {
	fields := strings.FieldsFunc(answer, func(r rune) bool { return !unicode.IsLetter(r) })
	return len(fields) > 0 && strings.EqualFold(fields[0], "yes")
}
