package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/BotPipe/internal/models"
)

// sqlStore implements Store over database/sql. Queries are written with ?
// placeholders and rebound for PostgreSQL.
type sqlStore struct {
	db      *sql.DB
	dialect string
	name    string
}

// q rebinds ? placeholders to $n for PostgreSQL.
func (s *sqlStore) q(query string) string {
	if s.dialect != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withTx runs fn in a transaction, committing on success.
func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn(s.name+" rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const sessionColumns = `id, bot_id, user_id, scenario_id, current_step, context, active, started_at, last_activity`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (models.Session, error) {
	var sess models.Session
	var step sql.NullInt64
	var ctxJSON sql.NullString
	if err := row.Scan(&sess.ID, &sess.BotID, &sess.UserID, &sess.ScenarioID, &step, &ctxJSON,
		&sess.Active, &sess.StartedAt, &sess.LastActivity); err != nil {
		return sess, err
	}
	if step.Valid {
		sess.CurrentStep = models.NextOrder(int(step.Int64))
	}
	sess.Context = models.Context{}
	if ctxJSON.Valid && ctxJSON.String != "" {
		if err := json.Unmarshal([]byte(ctxJSON.String), &sess.Context); err != nil {
			return sess, fmt.Errorf("decode session context: %w", err)
		}
	}
	return sess, nil
}

func sessionArgs(sess models.Session) ([]any, error) {
	ctx := sess.Context
	if ctx == nil {
		ctx = models.Context{}
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("encode session context: %w", err)
	}
	var step any
	if sess.CurrentStep != nil {
		step = *sess.CurrentStep
	}
	return []any{sess.ID, sess.BotID, sess.UserID, sess.ScenarioID, step, string(data),
		sess.Active, sess.StartedAt.UTC(), sess.LastActivity.UTC()}, nil
}

const upsertSessionSQL = `
	INSERT INTO scenario_sessions (` + sessionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		current_step = excluded.current_step,
		context = excluded.context,
		active = excluded.active,
		last_activity = excluded.last_activity`

func (s *sqlStore) LoadActiveSession(ctx context.Context, botID, userID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+sessionColumns+` FROM scenario_sessions
		WHERE bot_id = ? AND user_id = ? AND active = ? LIMIT 1`), botID, userID, true)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" LoadActiveSession failed", "error", err, "botID", botID, "userID", userID)
		return nil, fmt.Errorf("load active session: %w", err)
	}
	return &sess, nil
}

func (s *sqlStore) ReplaceActiveSession(ctx context.Context, sess models.Session) error {
	args, err := sessionArgs(sess)
	if err != nil {
		return err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE scenario_sessions SET active = ?, last_activity = ?
			WHERE bot_id = ? AND user_id = ? AND active = ?`),
			false, sess.LastActivity.UTC(), sess.BotID, sess.UserID, true); err != nil {
			return fmt.Errorf("deactivate previous session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.q(upsertSessionSQL), args...); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Error(s.name+" ReplaceActiveSession failed", "error", err, "botID", sess.BotID, "userID", sess.UserID)
		return err
	}
	slog.Debug(s.name+" ReplaceActiveSession succeeded", "sessionID", sess.ID, "botID", sess.BotID, "userID", sess.UserID)
	return nil
}

func (s *sqlStore) SaveSession(ctx context.Context, sess models.Session) error {
	args, err := sessionArgs(sess)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.q(upsertSessionSQL), args...); err != nil {
		slog.Error(s.name+" SaveSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	slog.Debug(s.name+" SaveSession succeeded", "sessionID", sess.ID, "active", sess.Active)
	return nil
}

func (s *sqlStore) DeactivateSession(ctx context.Context, botID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE scenario_sessions SET active = ?, last_activity = ?
		WHERE bot_id = ? AND user_id = ? AND active = ?`), false, time.Now().UTC(), botID, userID, true)
	if err != nil {
		slog.Error(s.name+" DeactivateSession failed", "error", err, "botID", botID, "userID", userID)
		return false, fmt.Errorf("deactivate session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate session rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *sqlStore) ListSessions(ctx context.Context, botID, userID string) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+sessionColumns+` FROM scenario_sessions
		WHERE bot_id = ? AND user_id = ? ORDER BY started_at DESC`), botID, userID)
	if err != nil {
		slog.Error(s.name+" ListSessions query failed", "error", err, "botID", botID, "userID", userID)
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveScenario(ctx context.Context, sc models.Scenario) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO scenarios (id, bot_id, name, description, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				bot_id = excluded.bot_id,
				name = excluded.name,
				description = excluded.description,
				active = excluded.active,
				updated_at = excluded.updated_at`),
			sc.ID, sc.BotID, sc.Name, sc.Description, sc.Active, now, now); err != nil {
			return fmt.Errorf("upsert scenario: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM scenario_steps WHERE scenario_id = ?`), sc.ID); err != nil {
			return fmt.Errorf("delete old steps: %w", err)
		}
		for _, st := range sc.Steps {
			stepType, data, err := models.EncodeStep(st)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO scenario_steps
				(scenario_id, step_order, name, step_type, data, active) VALUES (?, ?, ?, ?, ?, ?)`),
				sc.ID, st.Order, st.Name, string(stepType), string(data), st.Active); err != nil {
				return fmt.Errorf("insert step %d: %w", st.Order, err)
			}
		}
		return nil
	})
	if err != nil {
		slog.Error(s.name+" SaveScenario failed", "error", err, "scenarioID", sc.ID)
		return err
	}
	slog.Debug(s.name+" SaveScenario succeeded", "scenarioID", sc.ID, "steps", len(sc.Steps))
	return nil
}

func (s *sqlStore) LoadScenario(ctx context.Context, scenarioID string) (*models.Scenario, error) {
	var sc models.Scenario
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, bot_id, name, description, active, created_at, updated_at
		FROM scenarios WHERE id = ?`), scenarioID).
		Scan(&sc.ID, &sc.BotID, &sc.Name, &sc.Description, &sc.Active, &sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" LoadScenario failed", "error", err, "scenarioID", scenarioID)
		return nil, fmt.Errorf("load scenario %s: %w", scenarioID, err)
	}
	steps, err := s.LoadScenarioSteps(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	sc.Steps = steps
	return &sc, nil
}

func (s *sqlStore) LoadScenarioSteps(ctx context.Context, scenarioID string) ([]models.Step, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT step_order, name, step_type, data, active
		FROM scenario_steps WHERE scenario_id = ? ORDER BY step_order`), scenarioID)
	if err != nil {
		slog.Error(s.name+" LoadScenarioSteps query failed", "error", err, "scenarioID", scenarioID)
		return nil, fmt.Errorf("load steps of %s: %w", scenarioID, err)
	}
	defer rows.Close()

	var steps []models.Step
	for rows.Next() {
		var st models.Step
		var stepType, data string
		if err := rows.Scan(&st.Order, &st.Name, &stepType, &data, &st.Active); err != nil {
			return nil, fmt.Errorf("scan step row: %w", err)
		}
		kind, transitions, err := models.DecodeStep(models.StepType(stepType), []byte(data))
		if err != nil {
			return nil, fmt.Errorf("step %d of %s: %w", st.Order, scenarioID, err)
		}
		st.ScenarioID = scenarioID
		st.Kind = kind
		st.Transitions = transitions
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *sqlStore) ListScenarios(ctx context.Context, botID string) ([]models.Scenario, error) {
	query := `SELECT id, bot_id, name, description, active, created_at, updated_at FROM scenarios`
	var args []any
	if botID != "" {
		query += ` WHERE bot_id = ? OR bot_id = ''`
		args = append(args, botID)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query+` ORDER BY name`), args...)
	if err != nil {
		slog.Error(s.name+" ListScenarios query failed", "error", err, "botID", botID)
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	defer rows.Close()

	var out []models.Scenario
	for rows.Next() {
		var sc models.Scenario
		if err := rows.Scan(&sc.ID, &sc.BotID, &sc.Name, &sc.Description, &sc.Active, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan scenario row: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqlStore) ensureConversation(ctx context.Context, ex execer, botID, userID string, now time.Time) error {
	_, err := ex.ExecContext(ctx, s.q(`INSERT INTO conversations (bot_id, user_id, total_tokens, created_at, last_activity)
		VALUES (?, ?, 0, ?, ?) ON CONFLICT (bot_id, user_id) DO NOTHING`), botID, userID, now, now)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *sqlStore) LoadConversation(ctx context.Context, botID, userID string) (*models.Conversation, error) {
	if err := s.ensureConversation(ctx, s.db, botID, userID, time.Now().UTC()); err != nil {
		slog.Error(s.name+" LoadConversation create failed", "error", err, "botID", botID, "userID", userID)
		return nil, err
	}

	c := models.Conversation{BotID: botID, UserID: userID}
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT total_tokens, created_at, last_activity
		FROM conversations WHERE bot_id = ? AND user_id = ?`), botID, userID).
		Scan(&c.TotalTokens, &c.CreatedAt, &c.LastActivity); err != nil {
		slog.Error(s.name+" LoadConversation failed", "error", err, "botID", botID, "userID", userID)
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT role, content, created_at FROM conversation_messages
		WHERE bot_id = ? AND user_id = ? ORDER BY id`), botID, userID)
	if err != nil {
		return nil, fmt.Errorf("load conversation messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t models.Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan conversation message: %w", err)
		}
		c.Turns = append(c.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slog.Debug(s.name+" LoadConversation succeeded", "botID", botID, "userID", userID, "turns", len(c.Turns))
	return &c, nil
}

func (s *sqlStore) AppendMessage(ctx context.Context, botID, userID string, turn models.Turn) error {
	at := turn.Timestamp.UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureConversation(ctx, tx, botID, userID, at); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO conversation_messages (bot_id, user_id, role, content, created_at)
			VALUES (?, ?, ?, ?, ?)`), botID, userID, turn.Role, turn.Content, at); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE conversations SET last_activity = ?
			WHERE bot_id = ? AND user_id = ?`), at, botID, userID); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Error(s.name+" AppendMessage failed", "error", err, "botID", botID, "userID", userID)
	}
	return err
}

func (s *sqlStore) AddConversationTokens(ctx context.Context, botID, userID string, n int) error {
	now := time.Now().UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureConversation(ctx, tx, botID, userID, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.q(`UPDATE conversations SET total_tokens = total_tokens + ?
			WHERE bot_id = ? AND user_id = ?`), n, botID, userID)
		return err
	})
	if err != nil {
		slog.Error(s.name+" AddConversationTokens failed", "error", err, "botID", botID, "userID", userID)
		return fmt.Errorf("add conversation tokens: %w", err)
	}
	return nil
}

func (s *sqlStore) ResetConversation(ctx context.Context, botID, userID string) error {
	now := time.Now().UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureConversation(ctx, tx, botID, userID, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM conversation_messages WHERE bot_id = ? AND user_id = ?`), botID, userID); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE conversations SET total_tokens = 0, last_activity = ?
			WHERE bot_id = ? AND user_id = ?`), now, botID, userID); err != nil {
			return fmt.Errorf("reset counter: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Error(s.name+" ResetConversation failed", "error", err, "botID", botID, "userID", userID)
		return err
	}
	slog.Info(s.name+" ResetConversation succeeded", "botID", botID, "userID", userID)
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug("Closing " + s.name + " database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close "+s.name+" database", "error", err)
	}
	return err
}
