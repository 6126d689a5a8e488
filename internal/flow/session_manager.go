package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/BotPipe/internal/models"
	"github.com/BTreeMap/BotPipe/internal/store"
)

// SessionManager reads and writes scenario sessions through a SessionRepo.
// Callers hold the pair lock around read-modify-write sequences.
type SessionManager struct {
	repo store.SessionRepo
	now  func() time.Time
}

// NewSessionManager creates a SessionManager backed by repo.
func NewSessionManager(repo store.SessionRepo) *SessionManager {
	slog.Debug("Creating SessionManager")
	return &SessionManager{repo: repo, now: time.Now}
}

// Active returns the active session for the pair, or nil.
func (sm *SessionManager) Active(ctx context.Context, botID, userID string) (*models.Session, error) {
	sess, err := sm.repo.LoadActiveSession(ctx, botID, userID)
	if err != nil {
		slog.Error("SessionManager Active error", "error", err, "botID", botID, "userID", userID)
		return nil, err
	}
	if sess == nil {
		slog.Debug("SessionManager Active not found", "botID", botID, "userID", userID)
		return nil, nil
	}
	if sess.Context == nil {
		sess.Context = models.Context{}
	}
	return sess, nil
}

// Replace deactivates any active session for the pair and stores sess as the
// new active one, in a single store operation.
func (sm *SessionManager) Replace(ctx context.Context, sess models.Session) error {
	now := sm.now().UTC()
	sess.Active = true
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	sess.LastActivity = now

	if err := sm.repo.ReplaceActiveSession(ctx, sess); err != nil {
		slog.Error("SessionManager Replace error", "error", err, "botID", sess.BotID, "userID", sess.UserID, "scenarioID", sess.ScenarioID)
		return err
	}
	slog.Debug("SessionManager Replace succeeded", "botID", sess.BotID, "userID", sess.UserID, "sessionID", sess.ID)
	return nil
}

// Advance moves the session to step next and persists its context.
func (sm *SessionManager) Advance(ctx context.Context, sess *models.Session, next int) error {
	sess.CurrentStep = models.NextOrder(next)
	sess.LastActivity = sm.now().UTC()
	if err := sm.repo.SaveSession(ctx, *sess); err != nil {
		slog.Error("SessionManager Advance error", "error", err, "botID", sess.BotID, "userID", sess.UserID, "step", next)
		return err
	}
	return nil
}

// Finish marks the session inactive, keeping its final context.
func (sm *SessionManager) Finish(ctx context.Context, sess *models.Session) error {
	sess.Active = false
	sess.LastActivity = sm.now().UTC()
	if err := sm.repo.SaveSession(ctx, *sess); err != nil {
		slog.Error("SessionManager Finish error", "error", err, "botID", sess.BotID, "userID", sess.UserID)
		return err
	}
	slog.Debug("SessionManager Finish succeeded", "botID", sess.BotID, "userID", sess.UserID, "sessionID", sess.ID)
	return nil
}

// End deactivates the active session for the pair, if any.
func (sm *SessionManager) End(ctx context.Context, botID, userID string) (bool, error) {
	ended, err := sm.repo.DeactivateSession(ctx, botID, userID)
	if err != nil {
		slog.Error("SessionManager End error", "error", err, "botID", botID, "userID", userID)
		return false, err
	}
	return ended, nil
}

// History lists all sessions of the pair, newest first.
func (sm *SessionManager) History(ctx context.Context, botID, userID string) ([]models.Session, error) {
	return sm.repo.ListSessions(ctx, botID, userID)
}
