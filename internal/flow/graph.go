package flow

import (
	"github.com/BTreeMap/BotPipe/internal/models"
)

// ScenarioGraph is the set of active steps of one scenario, ordered by
// position. It is built per turn and never cached across turns.
type ScenarioGraph struct {
	ScenarioID string
	steps      []models.Step
	byOrder    map[int]int
}

// NewScenarioGraph builds a graph from the scenario's steps, dropping inactive
// ones.
func NewScenarioGraph(scenarioID string, steps []models.Step) *ScenarioGraph {
	g := &ScenarioGraph{ScenarioID: scenarioID, byOrder: make(map[int]int, len(steps))}
	for _, st := range steps {
		if !st.Active {
			continue
		}
		g.steps = append(g.steps, st)
	}
	models.SortSteps(g.steps)
	for i, st := range g.steps {
		g.byOrder[st.Order] = i
	}
	return g
}

// First returns the lowest-ordered active step.
func (g *ScenarioGraph) First() (models.Step, bool) {
	if len(g.steps) == 0 {
		return models.Step{}, false
	}
	return g.steps[0], true
}

// Step returns the active step at order.
func (g *ScenarioGraph) Step(order int) (models.Step, bool) {
	i, ok := g.byOrder[order]
	if !ok {
		return models.Step{}, false
	}
	return g.steps[i], true
}

// Len is the number of active steps.
func (g *ScenarioGraph) Len() int { return len(g.steps) }
