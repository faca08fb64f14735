package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/common/retry"
)

// ErrSuppressed is returned when the outbound channel is in a rate-limit
// cooldown and the send was skipped rather than attempted.
var ErrSuppressed = errors.New("chat: outbound sends suppressed by rate limit")

// Sender is the minimal outbound surface the Messenger wraps.
type Sender interface {
	SendMessage(ctx context.Context, roomID, message string) error
}

// Messenger delivers replies with transient-failure retries. A homeserver
// rate limit (M_LIMIT_EXCEEDED) is never retried; instead further sends are
// suppressed for a short cooldown so a saturated channel does not cascade
// into a retry storm.
type Messenger struct {
	sender Sender
	log    *slog.Logger

	mu              sync.Mutex
	suppressedUntil time.Time
}

const rateLimitCooldown = 30 * time.Second

// NewMessenger wraps a Sender.
func NewMessenger(sender Sender, log *slog.Logger) *Messenger {
	if log == nil {
		log = slog.Default()
	}
	return &Messenger{sender: sender, log: log}
}

// Send delivers text to a room. Transient failures are retried with backoff;
// a rate-limited response starts the cooldown and is reported as is.
func (m *Messenger) Send(ctx context.Context, roomID, text string) error {
	if text == "" {
		return nil
	}

	m.mu.Lock()
	suppressed := time.Now().Before(m.suppressedUntil)
	m.mu.Unlock()
	if suppressed {
		m.log.Warn("outbound send skipped during rate-limit cooldown", "room", roomID)
		return ErrSuppressed
	}

	cfg := retry.Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, mautrix.MLimitExceeded)
		},
	}
	err := retry.Do(ctx, cfg, func() error {
		return m.sender.SendMessage(ctx, roomID, text)
	})
	if errors.Is(err, mautrix.MLimitExceeded) {
		m.mu.Lock()
		m.suppressedUntil = time.Now().Add(rateLimitCooldown)
		m.mu.Unlock()
		m.log.Warn("homeserver rate limit hit, suppressing outbound sends",
			"room", roomID, "cooldown", rateLimitCooldown)
	}
	return err
}
