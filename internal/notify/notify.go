// README: Notification sink port, fan-out and the structured log adapter.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"campusride/internal/types"
)

type Kind string

const (
	KindRideStarted      Kind = "ride_started"
	KindRideCompleted    Kind = "ride_completed"
	KindRideCancelled    Kind = "ride_cancelled"
	KindPreRideUpdate    Kind = "pre_ride_update"
	KindBookingRequested Kind = "booking_requested"
	KindBookingConfirmed Kind = "booking_confirmed"
	KindBookingRejected  Kind = "booking_rejected"
	KindBookingCancelled Kind = "booking_cancelled"
	KindWaitlistJoined   Kind = "waitlist_joined"
	KindWaitlistPromoted Kind = "waitlist_promoted"
	KindWaitlistExpired  Kind = "waitlist_expired"
)

type Update struct {
	RideID     types.ID   `json:"ride_id"`
	Kind       Kind       `json:"kind"`
	Message    string     `json:"message"`
	Recipients []types.ID `json:"recipients"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Sink delivers updates. Callers treat delivery as fire-and-forget.
type Sink interface {
	Send(ctx context.Context, u Update) error
}

// Multi fans an update out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, u Update) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Send(ctx context.Context, u Update) error {
	s.log.InfoContext(ctx, "ride update",
		slog.String("ride_id", string(u.RideID)),
		slog.String("kind", string(u.Kind)),
		slog.Int("recipients", len(u.Recipients)),
		slog.String("message", u.Message),
	)
	return nil
}

// DeliveryTimeout bounds each background send.
const DeliveryTimeout = 5 * time.Second

// Deliver sends the updates in order on a background goroutine that outlives the caller's
// cancellation. Failures are logged, never returned.
func Deliver(ctx context.Context, sink Sink, log *slog.Logger, updates ...Update) {
	if sink == nil || len(updates) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		for _, u := range updates {
			sendCtx, cancel := context.WithTimeout(ctx, DeliveryTimeout)
			err := sink.Send(sendCtx, u)
			cancel()
			if err != nil {
				log.WarnContext(ctx, "notification delivery failed",
					slog.String("ride_id", string(u.RideID)),
					slog.String("kind", string(u.Kind)),
					slog.Any("error", err),
				)
			}
		}
	}()
}

// Recorder keeps every update in memory.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *Recorder) Send(_ context.Context, u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

// Wait polls until at least n updates arrived or timeout passed, then returns them.
func (r *Recorder) Wait(n int, timeout time.Duration) []Update {
	deadline := time.Now().Add(timeout)
	for {
		got := r.Updates()
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
}
