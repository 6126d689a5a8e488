// Package catalog loads bot and scenario definitions from YAML or JSON files
// and imports scenarios into a store.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/BotPipe/internal/models"
	"github.com/BTreeMap/BotPipe/internal/store"
)

// Supported file formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Catalog errors.
var (
	ErrUnknownFormat     = errors.New("unknown catalog format")
	ErrDuplicateBot      = errors.New("duplicate bot id")
	ErrDuplicateScenario = errors.New("duplicate scenario id")
	ErrUnknownBot        = errors.New("scenario references unknown bot")
)

// file is the on-disk layout of a catalog.
type file struct {
	Bots      []models.Bot   `yaml:"bots" json:"bots"`
	Scenarios []scenarioSpec `yaml:"scenarios" json:"scenarios"`
}

type scenarioSpec struct {
	ID          string     `yaml:"id" json:"id"`
	BotID       string     `yaml:"bot_id" json:"bot_id"`
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Active      *bool      `yaml:"active" json:"active"`
	Steps       []stepSpec `yaml:"steps" json:"steps"`
}

type stepSpec struct {
	Name     string         `yaml:"name" json:"name"`
	Order    int            `yaml:"order" json:"order"`
	StepType string         `yaml:"step_type" json:"step_type"`
	IsActive *bool          `yaml:"is_active" json:"is_active"`
	Data     map[string]any `yaml:"data" json:"data"`
}

// Catalog is a validated set of bots and scenarios.
type Catalog struct {
	Bots      []models.Bot
	Scenarios []models.Scenario
}

// Bot returns the bot with the given id.
func (c *Catalog) Bot(id string) (models.Bot, bool) {
	for _, b := range c.Bots {
		if b.ID == id {
			return b, true
		}
	}
	return models.Bot{}, false
}

// FormatOf picks the format from a file extension.
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// Load reads and parses the catalog at path.
func Load(path string) (*Catalog, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	cat, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	slog.Info("Catalog loaded", "path", path, "bots", len(cat.Bots), "scenarios", len(cat.Scenarios))
	return cat, nil
}

// Parse decodes a catalog document in the given format and validates it.
func Parse(data []byte, format string) (*Catalog, error) {
	var f file
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	cat := &Catalog{}
	bots := make(map[string]bool, len(f.Bots))
	for _, b := range f.Bots {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("bot %q: %w", b.ID, err)
		}
		if bots[b.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBot, b.ID)
		}
		bots[b.ID] = true
		cat.Bots = append(cat.Bots, b)
	}

	seen := make(map[string]bool, len(f.Scenarios))
	for i, spec := range f.Scenarios {
		sc, err := spec.scenario()
		if err != nil {
			return nil, fmt.Errorf("scenario %d (%s): %w", i, spec.Name, err)
		}
		if seen[sc.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateScenario, sc.ID)
		}
		if sc.BotID != "" && len(bots) > 0 && !bots[sc.BotID] {
			return nil, fmt.Errorf("%w: %s uses %s", ErrUnknownBot, sc.ID, sc.BotID)
		}
		seen[sc.ID] = true
		cat.Scenarios = append(cat.Scenarios, sc)
	}

	for _, b := range cat.Bots {
		if b.StartScenario != "" && !seen[b.StartScenario] {
			slog.Warn("Catalog: bot start scenario is not defined in this catalog", "botID", b.ID, "scenarioID", b.StartScenario)
		}
	}
	return cat, nil
}

func (s scenarioSpec) scenario() (models.Scenario, error) {
	sc := models.Scenario{
		ID:          s.ID,
		BotID:       s.BotID,
		Name:        s.Name,
		Description: s.Description,
		Active:      s.Active == nil || *s.Active,
	}
	if sc.ID == "" {
		sc.ID = slug(s.Name)
	}

	for i, st := range s.Steps {
		step, err := st.step(sc.ID, i)
		if err != nil {
			return models.Scenario{}, err
		}
		sc.Steps = append(sc.Steps, step)
	}
	if err := sc.Validate(); err != nil {
		return models.Scenario{}, err
	}
	models.SortSteps(sc.Steps)
	return sc, nil
}

func (s stepSpec) step(scenarioID string, index int) (models.Step, error) {
	order := s.Order
	if order == 0 {
		order = index + 1
	}
	name := s.Name
	if name == "" {
		name = fmt.Sprintf("Step %d", order)
	}
	stepType := models.StepType(s.StepType)
	if stepType == "" {
		stepType = models.StepMessage
	}

	raw, err := json.Marshal(s.Data)
	if err != nil {
		return models.Step{}, fmt.Errorf("step %d: %w: %v", order, models.ErrInvalidStepData, err)
	}
	kind, transitions, err := models.DecodeStep(stepType, raw)
	if err != nil {
		return models.Step{}, fmt.Errorf("step %d: %w", order, err)
	}
	return models.Step{
		ScenarioID:  scenarioID,
		Order:       order,
		Name:        name,
		Kind:        kind,
		Transitions: transitions,
		Active:      s.IsActive == nil || *s.IsActive,
	}, nil
}

// slug derives a scenario id from its name.
func slug(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore && b.Len() > 0:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// ImportResult counts the outcome of an import.
type ImportResult struct {
	Imported int
	Skipped  int
}

// Import saves scenarios into repo. A scenario that already exists is skipped
// unless overwrite is set, in which case its steps are replaced.
func Import(ctx context.Context, repo store.ScenarioRepo, scenarios []models.Scenario, overwrite bool) (ImportResult, error) {
	var res ImportResult
	for _, sc := range scenarios {
		existing, err := repo.LoadScenario(ctx, sc.ID)
		if err != nil {
			return res, fmt.Errorf("check scenario %s: %w", sc.ID, err)
		}
		if existing != nil && !overwrite {
			slog.Warn("Catalog Import: scenario exists, skipping", "scenarioID", sc.ID, "name", sc.Name)
			res.Skipped++
			continue
		}
		if existing != nil {
			sc.CreatedAt = existing.CreatedAt
			slog.Info("Catalog Import: overwriting scenario", "scenarioID", sc.ID, "name", sc.Name)
		}
		if err := repo.SaveScenario(ctx, sc); err != nil {
			return res, fmt.Errorf("save scenario %s: %w", sc.ID, err)
		}
		slog.Debug("Catalog Import: scenario saved", "scenarioID", sc.ID, "steps", len(sc.Steps))
		res.Imported++
	}
	slog.Info("Catalog Import finished", "imported", res.Imported, "skipped", res.Skipped)
	return res, nil
}
