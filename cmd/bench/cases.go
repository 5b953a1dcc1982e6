// README: Benchmark cases; booking flow, waitlist, last-seat race and listing throughput against a live API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"campusride/internal/infra"
	"campusride/internal/types"
)

type Runner struct {
	cfg    Config
	httpc  *http.Client
	db     *pgxpool.Pool
	redis  *redis.Client
	tokens *infra.JWTVerifier
	// run scopes the ids minted by this run so repeated runs never collide.
	run string

	rideID    string
	bookingID string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) (*Runner, error) {
	tokens, err := infra.NewJWTVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("bench needs -jwt-secret: %w", err)
	}
	return &Runner{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		tokens: tokens,
		run:    uuid.NewString()[:8],
	}, nil
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) driver() types.Identity {
	return types.Identity{ID: types.ID("bench-driver-" + r.run), Role: types.RoleDriver, DriverVerified: true}
}

func (r *Runner) student(n int) types.Identity {
	return types.Identity{ID: types.ID(fmt.Sprintf("bench-student-%s-%d", r.run, n)), Role: types.RoleStudent}
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Migration: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "db not configured"}
				}
				for _, t := range []string{"rides", "bookings", "reviews", "ride_events"} {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "API: health",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, latency, err := r.call(ctx, nil, http.MethodGet, "/health", nil)
				return expect(status, latency, err, http.StatusOK)
			},
		},
		{
			Name: "Ride: driver creates ride",
			Run: func(ctx context.Context, r *Runner) Result {
				id, status, latency, err := r.createRide(ctx, 72*time.Hour, 1)
				r.rideID = id
				return expect(status, latency, err, http.StatusCreated)
			},
		},
		{
			Name: "Ride: missing fields -> 400",
			Run: func(ctx context.Context, r *Runner) Result {
				d := r.driver()
				status, _, latency, err := r.call(ctx, &d, http.MethodPost, "/api/rides", map[string]any{})
				return expect(status, latency, err, http.StatusBadRequest)
			},
		},
		{
			Name: "Ride: student cannot offer -> 403",
			Run: func(ctx context.Context, r *Runner) Result {
				s := r.student(0)
				status, _, latency, err := r.call(ctx, &s, http.MethodPost, "/api/rides", rideBody(72*time.Hour, 1))
				return expect(status, latency, err, http.StatusForbidden)
			},
		},
		{
			Name: "Booking: student requests seat",
			Run: func(ctx context.Context, r *Runner) Result {
				s := r.student(1)
				status, body, latency, err := r.call(ctx, &s, http.MethodPost, "/api/bookings", map[string]any{"ride_id": r.rideID})
				r.bookingID, _ = body["id"].(string)
				return expect(status, latency, err, http.StatusCreated)
			},
		},
		{
			Name: "Booking: duplicate request -> 409",
			Run: func(ctx context.Context, r *Runner) Result {
				s := r.student(1)
				status, _, latency, err := r.call(ctx, &s, http.MethodPost, "/api/bookings", map[string]any{"ride_id": r.rideID})
				return expect(status, latency, err, http.StatusConflict)
			},
		},
		{
			Name: "Booking: driver confirms",
			Run: func(ctx context.Context, r *Runner) Result {
				d := r.driver()
				status, _, latency, err := r.call(ctx, &d, http.MethodPut, "/api/bookings/"+r.bookingID+"/status", map[string]any{"status": "CONFIRMED"})
				return expect(status, latency, err, http.StatusOK)
			},
		},
		{
			Name: "Waitlist: full ride queues next student",
			Run: func(ctx context.Context, r *Runner) Result {
				s := r.student(2)
				status, body, latency, err := r.call(ctx, &s, http.MethodPost, "/api/bookings", map[string]any{"ride_id": r.rideID})
				if res := expect(status, latency, err, http.StatusCreated); res.Status != "PASS" {
					return res
				}
				if body["status"] != "WAITLISTED" {
					return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%v", body["status"])}
				}
				return Result{Status: "PASS", Latency: latency}
			},
		},
		{
			Name: "Concurrency: confirm race on last seat",
			Run: func(ctx context.Context, r *Runner) Result {
				return lastSeatRace(ctx, r)
			},
		},
		{
			Name: "Perf: available rides listing throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, "/api/rides/available")
			},
		},
	}
}

func rideBody(departIn time.Duration, seats int) map[string]any {
	return map[string]any{
		"origin":         "Main Campus",
		"destination":    "Central Station",
		"departure_time": time.Now().UTC().Add(departIn).Truncate(time.Minute),
		"total_seats":    seats,
		"price":          8.5,
	}
}

func (r *Runner) createRide(ctx context.Context, departIn time.Duration, seats int) (string, int, time.Duration, error) {
	d := r.driver()
	status, body, latency, err := r.call(ctx, &d, http.MethodPost, "/api/rides", rideBody(departIn, seats))
	id, _ := body["id"].(string)
	return id, status, latency, err
}

// call sends one JSON request, authenticated as who when non-nil.
func (r *Runner) call(ctx context.Context, who *types.Identity, method, path string, body any) (int, map[string]any, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if who != nil {
		tok, err := r.tokens.Mint(*who, time.Hour)
		if err != nil {
			return 0, nil, 0, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	latency := time.Since(start)
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out, latency, nil
}

func expect(status int, latency time.Duration, err error, want int) Result {
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if status != want {
		return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d want=%d", status, want)}
	}
	return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
}

// lastSeatRace files N pending requests on a one-seat ride and confirms them all at once.
func lastSeatRace(ctx context.Context, r *Runner) Result {
	rideID, status, _, err := r.createRide(ctx, 76*time.Hour, 1)
	if res := expect(status, 0, err, http.StatusCreated); res.Status != "PASS" {
		return res
	}
	n := r.cfg.Concurrency
	bookings := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s := r.student(100 + i)
		status, body, _, err := r.call(ctx, &s, http.MethodPost, "/api/bookings", map[string]any{"ride_id": rideID})
		if err != nil || status != http.StatusCreated {
			return Result{Status: "FAIL", Note: fmt.Sprintf("seed booking %d: status=%d err=%v", i, status, err)}
		}
		bookings = append(bookings, body["id"].(string))
	}

	d := r.driver()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		succ     int
		conflict int
		start    = make(chan struct{})
	)
	for _, id := range bookings {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			status, _, _, err := r.call(ctx, &d, http.MethodPut, "/api/bookings/"+id+"/status", map[string]any{"status": "CONFIRMED"})
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case http.StatusOK:
				succ++
			case http.StatusConflict:
				conflict++
			}
		}(id)
	}
	close(start)
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d", succ, conflict)
	if succ == 1 && conflict == n-1 {
		return Result{Status: "PASS", Note: note}
	}
	return Result{Status: "FAIL", Note: note}
}

func perfLoad(ctx context.Context, r *Runner, path string) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		count    int64
		errCount int64
		mu       sync.Mutex
		wg       sync.WaitGroup
	)
	s := r.student(0)

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, _, err := r.call(ctx, &s, http.MethodGet, path, nil)
				mu.Lock()
				if err != nil || status != http.StatusOK {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}
