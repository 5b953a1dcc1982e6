// README: Sink adapter tests (fan-out, RabbitMQ routing, Redis feed on miniredis).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = Update{
	RideID:     "ride-1",
	Kind:       KindPreRideUpdate,
	Message:    "running 5 minutes late",
	Recipients: nil,
	Timestamp:  time.Date(2026, 3, 10, 11, 30, 0, 0, time.UTC),
}

type failingSink struct{ err error }

func (f failingSink) Send(context.Context, Update) error { return f.err }

func TestMultiSendsToEverySink(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	boom := errors.New("broker down")
	err := Multi{a, failingSink{boom}, b}.Send(context.Background(), sample)

	require.ErrorIs(t, err, boom)
	assert.Len(t, a.Updates(), 1)
	assert.Len(t, b.Updates(), 1)
}

// syncBuffer guards a bytes.Buffer shared with the delivery goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDeliverLogsFailures(t *testing.T) {
	var buf syncBuffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	Deliver(context.Background(), failingSink{errors.New("broker down")}, log, sample)
	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "notification delivery failed")
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, buf.String(), "broker down")

	// nil sink is a no-op
	Deliver(context.Background(), nil, log, sample)
}

// ctxSink records the context state seen by each send.
type ctxSink struct {
	seen chan error
}

func (s ctxSink) Send(ctx context.Context, _ Update) error {
	if _, ok := ctx.Deadline(); !ok {
		s.seen <- errors.New("send without deadline")
		return nil
	}
	s.seen <- ctx.Err()
	return nil
}

func TestDeliverOutlivesCallerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := ctxSink{seen: make(chan error, 2)}
	second := sample
	second.Kind = KindRideStarted
	Deliver(ctx, sink, slog.Default(), sample, second)

	for i := 0; i < 2; i++ {
		select {
		case err := <-sink.seen:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("update was not delivered")
		}
	}
}

func TestDeliverKeepsOrderAndReturnsImmediately(t *testing.T) {
	rec := &Recorder{}
	block := make(chan struct{})
	slow := blockingSink{release: block, next: rec}

	second := sample
	second.Kind = KindRideStarted
	done := make(chan struct{})
	go func() {
		Deliver(context.Background(), slow, slog.Default(), sample, second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Deliver waited for the sink")
	}

	close(block)
	got := rec.Wait(2, time.Second)
	require.Len(t, got, 2)
	assert.Equal(t, KindPreRideUpdate, got[0].Kind)
	assert.Equal(t, KindRideStarted, got[1].Kind)
}

// blockingSink holds every send until release is closed.
type blockingSink struct {
	release chan struct{}
	next    Sink
}

func (s blockingSink) Send(ctx context.Context, u Update) error {
	<-s.release
	return s.next.Send(ctx, u)
}

type capturePublisher struct {
	exchange, key string
	msg           amqp.Publishing
}

func (c *capturePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return nil
}

func TestRabbitSinkRoutesByKindAndRide(t *testing.T) {
	pub := &capturePublisher{}
	require.NoError(t, NewRabbitSink(pub).Send(context.Background(), sample))

	assert.Equal(t, "ride_topic", pub.exchange)
	assert.Equal(t, "ride.update.pre_ride_update.ride-1", pub.key)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.Equal(t, amqp.Persistent, pub.msg.DeliveryMode)

	var got Update
	require.NoError(t, json.Unmarshal(pub.msg.Body, &got))
	assert.Equal(t, sample.Message, got.Message)
}

func TestRedisFeedKeepsNewestFirstAndTrims(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	feed := NewRedisFeed(rdb)
	ctx := context.Background()

	for i := 0; i < FeedLength+5; i++ {
		u := sample
		u.Message = strings.Repeat("x", i+1)
		require.NoError(t, feed.Send(ctx, u))
	}

	got, err := feed.Recent(ctx, "ride-1", 0)
	require.NoError(t, err)
	require.Len(t, got, FeedLength)
	assert.Len(t, got[0].Message, FeedLength+5, "newest update comes first")

	top, err := feed.Recent(ctx, "ride-1", 3)
	require.NoError(t, err)
	assert.Len(t, top, 3)

	ttl := mr.TTL("ride:ride-1:updates")
	assert.Equal(t, FeedTTL, ttl)

	empty, err := feed.Recent(ctx, "ride-2", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
