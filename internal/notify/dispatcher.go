package notify

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second

	// DefaultBufferSize is the delivery queue capacity used by cmd/sprintpulse.
	DefaultBufferSize = 256

	// maxAttempts bounds transient retries for a single delivery.
	maxAttempts = 8
)

// Delivery is one message bound for one target.
type Delivery struct {
	Target  Target
	Message Message

	attempts int
}

// Dispatcher buffers deliveries and posts them to webhooks.
// Enqueue is non-blocking; when the buffer is full the oldest delivery is
// evicted. Run must be called in a goroutine to drain the buffer.
type Dispatcher struct {
	buf    chan Delivery
	client *http.Client
	bo     *backoff
}

// NewDispatcher returns a Dispatcher with room for size pending deliveries.
func NewDispatcher(size int) *Dispatcher {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Dispatcher{
		buf:    make(chan Delivery, size),
		client: &http.Client{Timeout: sendTimeout},
		bo:     newBackoff(backoffInitial, backoffMax),
	}
}

// Enqueue queues d for delivery, evicting the oldest entry if needed. It never
// blocks: Run may put a retry back into the slot freed by an eviction, in which
// case Enqueue evicts again.
func (d *Dispatcher) Enqueue(dl Delivery) {
	for {
		select {
		case d.buf <- dl:
			return
		default:
		}
		select {
		case old := <-d.buf:
			slog.Warn("notify: buffer full, evicted oldest delivery",
				"team", old.Message.Team, "kind", old.Message.Kind, "buffer_cap", cap(d.buf))
		default:
		}
	}
}

// Pending returns the number of queued deliveries.
func (d *Dispatcher) Pending() int {
	return len(d.buf)
}

// Run drains the buffer until ctx is cancelled. Transient failures are put
// back on the queue and followed by a backoff pause; 4xx responses and
// deliveries that exhausted their attempts are dropped.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case dl := <-d.buf:
			err := d.send(ctx, dl)
			if err == nil {
				d.bo.reset()
				slog.Debug("notify: delivered",
					"team", dl.Message.Team, "kind", dl.Message.Kind, "type", dl.Target.Type)
				continue
			}

			dl.attempts++
			if isPermanent(err) || dl.attempts >= maxAttempts {
				slog.Error("notify: delivery failed, discarding",
					"team", dl.Message.Team, "kind", dl.Message.Kind, "type", dl.Target.Type,
					"attempts", dl.attempts, "err", err)
				continue
			}

			select {
			case d.buf <- dl:
			default:
				// Buffer full; newer deliveries take precedence.
			}

			wait := d.bo.next()
			slog.Warn("notify: delivery failed, will retry",
				"team", dl.Message.Team, "type", dl.Target.Type, "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, dl Delivery) error {
	body, err := encode(dl.Target, dl.Message)
	if err != nil {
		return &permanentError{err: err}
	}
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return post(sendCtx, d.client, dl.Target.URL, body)
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, ceiling time.Duration) *backoff {
	return &backoff{initial: initial, max: ceiling, current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
