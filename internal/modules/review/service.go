// README: Post-ride reviews of drivers by their passengers.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"campusride/internal/authz"
	"campusride/internal/domain"
	"campusride/internal/policy"
	"campusride/internal/store"
	"campusride/internal/types"
)

type Service struct {
	store store.Store
	authz authz.Authorizer
	clock policy.Clock
	log   *slog.Logger
}

func NewService(st store.Store, az authz.Authorizer, clock policy.Clock, log *slog.Logger) *Service {
	if clock == nil {
		clock = policy.SystemClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, authz: az, clock: clock, log: log}
}

type CreateCommand struct {
	BookingID types.ID
	Rating    int
	Comment   string
}

func (s *Service) Create(ctx context.Context, actor types.Identity, cmd CreateCommand) (*domain.Review, error) {
	if cmd.Rating < domain.MinRating || cmd.Rating > domain.MaxRating {
		return nil, domain.Invalid("rating", "must be between 1 and 5")
	}
	comment := strings.TrimSpace(cmd.Comment)
	if utf8.RuneCountInString(comment) > domain.MaxCommentLength {
		return nil, domain.Invalid("comment", "must be at most 1000 characters")
	}

	var rv *domain.Review
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		b, err := tx.GetBooking(ctx, cmd.BookingID)
		if err != nil {
			return err
		}
		ride, err := tx.GetRide(ctx, b.RideID)
		if err != nil {
			return err
		}
		if err := s.authz.Authorize(ctx, authz.Request{
			Action:   authz.ReviewCreate,
			Actor:    actor,
			Resource: authz.Resource{DriverID: ride.DriverID, PassengerID: b.PassengerID},
		}); err != nil {
			return err
		}
		if b.Status != domain.BookingCompleted {
			return domain.Invalid("booking_id", "only completed bookings can be reviewed")
		}
		rv = &domain.Review{
			BookingID:  b.ID,
			RideID:     ride.ID,
			DriverID:   ride.DriverID,
			ReviewerID: actor.ID,
			Rating:     cmd.Rating,
			Comment:    comment,
			CreatedAt:  s.clock.Now(),
		}
		return tx.InsertReview(ctx, rv)
	})
	if err != nil {
		return nil, fmt.Errorf("create review: %w", err)
	}

	s.log.InfoContext(ctx, "review created",
		slog.String("booking_id", string(rv.BookingID)),
		slog.String("driver_id", string(rv.DriverID)),
		slog.Int("rating", rv.Rating),
	)
	return rv, nil
}

func (s *Service) ListByDriver(ctx context.Context, driverID types.ID) ([]*domain.Review, error) {
	return s.store.ListReviewsByDriver(ctx, driverID)
}

// ListByReviewer is open to the reviewer themself and to admins.
func (s *Service) ListByReviewer(ctx context.Context, actor types.Identity, reviewerID types.ID) ([]*domain.Review, error) {
	if err := s.authz.Authorize(ctx, authz.Request{
		Action:   authz.ReviewListByReviewer,
		Actor:    actor,
		Resource: authz.Resource{PassengerID: reviewerID},
	}); err != nil {
		return nil, err
	}
	return s.store.ListReviewsByReviewer(ctx, reviewerID)
}

// CanReview reports whether the reviewer may still review the booking.
func (s *Service) CanReview(ctx context.Context, bookingID, reviewerID types.ID) (bool, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if b.Status != domain.BookingCompleted || b.PassengerID != reviewerID {
		return false, nil
	}
	_, err = s.store.GetReview(ctx, bookingID, reviewerID)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// DriverRating averages every review of the driver, rounded to one decimal.
func (s *Service) DriverRating(ctx context.Context, driverID types.ID) (domain.Rating, error) {
	reviews, err := s.store.ListReviewsByDriver(ctx, driverID)
	if err != nil {
		return domain.Rating{}, err
	}
	out := domain.Rating{DriverID: driverID, Count: len(reviews)}
	if len(reviews) == 0 {
		return out, nil
	}
	sum := 0
	for _, rv := range reviews {
		sum += rv.Rating
	}
	out.Average = math.Round(float64(sum)/float64(len(reviews))*10) / 10
	return out, nil
}
