package messaging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/BotPipe/internal/models"
)

// ConsoleService implements Service for a single local user: each line read
// from in is one message, replies are written to out.
type ConsoleService struct {
	botID   string
	user    models.User
	in      io.Reader
	out     io.Writer
	writeMu sync.Mutex

	inbound  chan models.InboundMessage
	done     chan struct{}
	stopOnce sync.Once
}

// NewConsoleService creates a ConsoleService speaking as user to bot botID.
func NewConsoleService(botID string, user models.User, in io.Reader, out io.Writer) *ConsoleService {
	return &ConsoleService{
		botID:   botID,
		user:    user,
		in:      in,
		out:     out,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}
}

// Start reads lines until the reader is exhausted, ctx is done or Stop is
// called. The inbound channel is closed when reading ends.
func (s *ConsoleService) Start(ctx context.Context) error {
	slog.Debug("ConsoleService Start invoked", "botID", s.botID, "userID", s.user.ID)
	go s.readLoop(ctx)
	return nil
}

func (s *ConsoleService) readLoop(ctx context.Context) {
	defer close(s.inbound)
	scanner := bufio.NewScanner(s.in)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		msg := models.InboundMessage{BotID: s.botID, User: s.user, Text: text, Time: time.Now()}
		select {
		case s.inbound <- msg:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("ConsoleService read failed", "error", err)
	}
	slog.Debug("ConsoleService input closed", "botID", s.botID)
}

// Stop ends the read loop.
func (s *ConsoleService) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		slog.Info("ConsoleService stopped", "botID", s.botID)
	})
	return nil
}

// SendMessage writes body to the output, prefixed with the bot id.
func (s *ConsoleService) SendMessage(_ context.Context, to string, body string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := fmt.Fprintf(s.out, "[%s] %s\n", s.botID, body); err != nil {
		return fmt.Errorf("console write to %s: %w", to, err)
	}
	return nil
}

// Inbound returns the channel of typed lines.
func (s *ConsoleService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}
