package flow

import (
	"strings"

	"github.com/BTreeMap/BotPipe/internal/models"
)

// Matches reports whether cond holds for the incoming text and context.
func Matches(cond models.Condition, vars models.Context, incoming string) bool {
	switch c := cond.(type) {
	case models.Always:
		return true
	case models.UserResponded:
		return incoming != ""
	case models.KeywordMatch:
		text := strings.ToLower(incoming)
		for _, kw := range c.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	case models.FieldEquals:
		v, ok := vars.Lookup(c.Field)
		return ok && v.Equal(c.Value)
	case models.FieldNotEquals:
		v, ok := vars.Lookup(c.Field)
		return !ok || !v.Equal(c.Value)
	case models.FieldExists:
		_, ok := vars.Lookup(c.Field)
		return ok
	default:
		// UnknownCondition and nil
		return false
	}
}

// SelectTransition returns the first transition whose condition holds.
func SelectTransition(transitions []models.Transition, vars models.Context, incoming string) (models.Transition, bool) {
	for _, t := range transitions {
		if Matches(t.When, vars, incoming) {
			return t, true
		}
	}
	return models.Transition{}, false
}
