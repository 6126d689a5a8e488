// Package store provides storage backends for BotPipe.
//
// It includes an in-memory store for tests and ephemeral runs, and persistent
// SQLite and PostgreSQL stores sharing one SQL implementation.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/BotPipe/internal/models"
)

// ErrActiveSessionExists is returned when saving a second active session for
// the same bot and user.
var ErrActiveSessionExists = errors.New("an active session already exists for this bot and user")

// SessionRepo persists scenario sessions.
type SessionRepo interface {
	// LoadActiveSession returns the active session, or nil if there is none.
	LoadActiveSession(ctx context.Context, botID, userID string) (*models.Session, error)
	// ReplaceActiveSession deactivates any active session of the same bot and
	// user and stores s as the new active one, atomically.
	ReplaceActiveSession(ctx context.Context, s models.Session) error
	// SaveSession updates an existing session or inserts a new one.
	SaveSession(ctx context.Context, s models.Session) error
	// DeactivateSession marks the active session inactive and reports whether one existed.
	DeactivateSession(ctx context.Context, botID, userID string) (bool, error)
	// ListSessions returns all sessions of a bot and user, newest first.
	ListSessions(ctx context.Context, botID, userID string) ([]models.Session, error)
}

// ScenarioRepo persists scenarios and their steps.
type ScenarioRepo interface {
	// SaveScenario inserts or replaces a scenario together with all its steps.
	SaveScenario(ctx context.Context, sc models.Scenario) error
	// LoadScenario returns the scenario with its steps, or nil if unknown.
	LoadScenario(ctx context.Context, scenarioID string) (*models.Scenario, error)
	// LoadScenarioSteps returns the scenario's steps ordered by position.
	LoadScenarioSteps(ctx context.Context, scenarioID string) ([]models.Step, error)
	// ListScenarios returns scenarios available to botID, or all when botID is empty.
	ListScenarios(ctx context.Context, botID string) ([]models.Scenario, error)
}

// ConversationRepo persists free-form conversation logs.
type ConversationRepo interface {
	// LoadConversation returns the conversation, creating an empty one on first use.
	LoadConversation(ctx context.Context, botID, userID string) (*models.Conversation, error)
	// AppendMessage appends a turn to the log.
	AppendMessage(ctx context.Context, botID, userID string, turn models.Turn) error
	// AddConversationTokens adds n to the running token counter.
	AddConversationTokens(ctx context.Context, botID, userID string, n int) error
	// ResetConversation removes every turn and zeroes the token counter.
	ResetConversation(ctx context.Context, botID, userID string) error
}

// Store is the full persistence collaborator.
type Store interface {
	SessionRepo
	ScenarioRepo
	ConversationRepo
	Ping(ctx context.Context) error
	Close() error
}

type pairKey struct{ botID, userID string }

// InMemoryStore is a Store kept in process memory.
type InMemoryStore struct {
	mu            sync.Mutex
	sessions      map[string]models.Session
	scenarios     map[string]models.Scenario
	conversations map[pairKey]*models.Conversation
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:      make(map[string]models.Session),
		scenarios:     make(map[string]models.Scenario),
		conversations: make(map[pairKey]*models.Conversation),
	}
}

func copySession(s models.Session) models.Session {
	s.Context = s.Context.Clone()
	if s.CurrentStep != nil {
		s.CurrentStep = models.NextOrder(*s.CurrentStep)
	}
	return s
}

func (s *InMemoryStore) LoadActiveSession(_ context.Context, botID, userID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Active && sess.BotID == botID && sess.UserID == userID {
			out := copySession(sess)
			return &out, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ReplaceActiveSession(_ context.Context, sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivateLocked(sess.BotID, sess.UserID, sess.LastActivity)
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

func (s *InMemoryStore) SaveSession(_ context.Context, sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.Active {
		for id, other := range s.sessions {
			if id != sess.ID && other.Active && other.BotID == sess.BotID && other.UserID == sess.UserID {
				return ErrActiveSessionExists
			}
		}
	}
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

func (s *InMemoryStore) DeactivateSession(_ context.Context, botID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivateLocked(botID, userID, time.Now().UTC()), nil
}

func (s *InMemoryStore) deactivateLocked(botID, userID string, at time.Time) bool {
	found := false
	for id, sess := range s.sessions {
		if sess.Active && sess.BotID == botID && sess.UserID == userID {
			sess.Active = false
			sess.LastActivity = at
			s.sessions[id] = sess
			found = true
		}
	}
	return found
}

func (s *InMemoryStore) ListSessions(_ context.Context, botID, userID string) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Session
	for _, sess := range s.sessions {
		if sess.BotID == botID && sess.UserID == userID {
			out = append(out, copySession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *InMemoryStore) SaveScenario(_ context.Context, sc models.Scenario) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := s.scenarios[sc.ID]; ok {
		sc.CreatedAt = prev.CreatedAt
	} else if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now
	steps := make([]models.Step, len(sc.Steps))
	copy(steps, sc.Steps)
	for i := range steps {
		steps[i].ScenarioID = sc.ID
	}
	models.SortSteps(steps)
	sc.Steps = steps
	s.scenarios[sc.ID] = sc
	return nil
}

func (s *InMemoryStore) LoadScenario(_ context.Context, scenarioID string) (*models.Scenario, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenarios[scenarioID]
	if !ok {
		return nil, nil
	}
	sc.Steps = append([]models.Step(nil), sc.Steps...)
	return &sc, nil
}

func (s *InMemoryStore) LoadScenarioSteps(_ context.Context, scenarioID string) ([]models.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenarios[scenarioID]
	if !ok {
		return nil, nil
	}
	return append([]models.Step(nil), sc.Steps...), nil
}

func (s *InMemoryStore) ListScenarios(_ context.Context, botID string) ([]models.Scenario, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Scenario
	for _, sc := range s.scenarios {
		if botID == "" || sc.AvailableTo(botID) {
			sc.Steps = nil
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemoryStore) conversationLocked(botID, userID string) *models.Conversation {
	key := pairKey{botID, userID}
	c, ok := s.conversations[key]
	if !ok {
		now := time.Now().UTC()
		c = &models.Conversation{BotID: botID, UserID: userID, CreatedAt: now, LastActivity: now}
		s.conversations[key] = c
	}
	return c
}

func (s *InMemoryStore) LoadConversation(_ context.Context, botID, userID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.conversationLocked(botID, userID)
	c.Turns = append([]models.Turn(nil), c.Turns...)
	return &c, nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, botID, userID string, turn models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conversationLocked(botID, userID)
	c.Turns = append(c.Turns, turn)
	c.LastActivity = turn.Timestamp
	return nil
}

func (s *InMemoryStore) AddConversationTokens(_ context.Context, botID, userID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conversationLocked(botID, userID)
	c.TotalTokens += n
	return nil
}

func (s *InMemoryStore) ResetConversation(_ context.Context, botID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conversationLocked(botID, userID)
	c.Turns = nil
	c.TotalTokens = 0
	c.LastActivity = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
