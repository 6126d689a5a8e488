// Package bots holds the set of running bots. The registry is created by the
// process entry point and passed to whatever needs it.
package bots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/BotPipe/internal/messaging"
	"github.com/BTreeMap/BotPipe/internal/models"
)

// Registry errors.
var (
	ErrDuplicateBot = errors.New("bot already registered")
	ErrRunning      = errors.New("registry is already running")
)

// Entry is one registered bot with its transport and dispatcher.
type Entry struct {
	Bot        models.Bot
	Service    messaging.Service
	Dispatcher *messaging.Dispatcher
}

// Registry owns the bots of one process.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	running bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Add registers a bot with its transport and dispatcher.
func (r *Registry) Add(bot models.Bot, svc messaging.Service, d *messaging.Dispatcher) error {
	if err := bot.Validate(); err != nil {
		return fmt.Errorf("bot %q: %w", bot.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[bot.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBot, bot.ID)
	}
	r.entries[bot.ID] = &Entry{Bot: bot, Service: svc, Dispatcher: d}
	slog.Debug("Registry bot added", "botID", bot.ID, "active", bot.IsActive())
	return nil
}

// Get returns the entry of a bot.
func (r *Registry) Get(botID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[botID]
	return e, ok
}

// List returns all registered bots ordered by id.
func (r *Registry) List() []models.Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Bot, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Bot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run starts every active bot and blocks until all of them stop. Cancelling
// ctx stops every bot; a bot whose transport fails to start stops the rest.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRunning
	}
	r.running = true
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.Bot.IsActive() {
			slog.Info("Registry skipping inactive bot", "botID", e.Bot.ID)
			continue
		}
		entries = append(entries, e)
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	slog.Info("Registry starting bots", "count", len(entries))
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error { return runEntry(gctx, e) })
	}
	err := g.Wait()
	slog.Info("Registry all bots stopped")
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func runEntry(ctx context.Context, e *Entry) error {
	if err := e.Service.Start(ctx); err != nil {
		slog.Error("Registry failed to start bot transport", "botID", e.Bot.ID, "error", err)
		return fmt.Errorf("start bot %s: %w", e.Bot.ID, err)
	}
	stop := context.AfterFunc(ctx, func() {
		if err := e.Service.Stop(); err != nil {
			slog.Error("Registry failed to stop bot transport", "botID", e.Bot.ID, "error", err)
		}
	})
	defer stop()

	slog.Info("Registry bot started", "botID", e.Bot.ID, "name", e.Bot.Name)
	err := e.Dispatcher.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil {
		return fmt.Errorf("bot %s: %w", e.Bot.ID, err)
	}
	slog.Info("Registry bot finished", "botID", e.Bot.ID)
	return nil
}
