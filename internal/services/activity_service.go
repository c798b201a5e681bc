package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/felipesantoos/authcore/internal/models"
	"github.com/felipesantoos/authcore/pkg/clock"
)

// LoginAttemptRepository is the persistence surface for attempt history.
type LoginAttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	HasSuccessfulLoginWithFingerprint(ctx context.Context, userID, fingerprint string, since time.Time) (bool, error)
	HasSuccessfulLoginFromIP(ctx context.Context, userID, ip string, since time.Time) (bool, error)
	GetLastSuccessfulAttempt(ctx context.Context, userID string) (*models.LoginAttempt, error)
	ListRecentByUser(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error)
}

// GeoResolver maps an IP address to coordinates. Resolution failures are
// expected (private ranges, unknown networks) and reported as ok=false.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (lat, lon float64, ok bool)
}

// ActivityService records login attempts and evaluates them against the
// user's history for signals worth notifying about: a device or IP never seen
// before, or a geographic jump faster than any plausible travel.
type ActivityService struct {
	attempts         LoginAttemptRepository
	geo              GeoResolver
	historyWindow    time.Duration
	maxTravelSpeed   float64 // km/h
	attemptRetention time.Duration
	clock            clock.Clock
	logger           *slog.Logger
}

// NewActivityService creates a new ActivityService. geo may be nil, which
// disables the impossible-travel signal.
func NewActivityService(attempts LoginAttemptRepository, geo GeoResolver, historyWindow time.Duration, maxTravelSpeedKmh float64, attemptRetention time.Duration, clk clock.Clock, logger *slog.Logger) *ActivityService {
	return &ActivityService{
		attempts:         attempts,
		geo:              geo,
		historyWindow:    historyWindow,
		maxTravelSpeed:   maxTravelSpeedKmh,
		attemptRetention: attemptRetention,
		clock:            clk,
		logger:           logger,
	}
}

// Evaluate computes activity signals for a successful authentication, BEFORE
// the new attempt is recorded so the comparison baseline is prior history
// only. A user with no prior successful logins produces no signals at all;
// first login from anywhere is not suspicious.
func (s *ActivityService) Evaluate(ctx context.Context, userID string, device DeviceContext) (models.ActivitySignals, error) {
	signals := models.ActivitySignals{}
	now := s.clock.Now()
	since := now.Add(-s.historyWindow)

	last, err := s.attempts.GetLastSuccessfulAttempt(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return signals, nil
		}
		return signals, err
	}

	if device.Fingerprint != "" {
		known, err := s.attempts.HasSuccessfulLoginWithFingerprint(ctx, userID, device.Fingerprint, since)
		if err != nil {
			return signals, err
		}
		signals.NewDevice = !known
	}

	knownIP, err := s.attempts.HasSuccessfulLoginFromIP(ctx, userID, device.IPAddress, since)
	if err != nil {
		return signals, err
	}
	signals.NewIP = !knownIP

	signals.ImpossibleTravel = s.checkTravel(ctx, last, device.IPAddress, now)

	return signals, nil
}

// checkTravel compares the current login's resolved coordinates with the last
// successful login's. Exceeding the configured speed between the two points
// flags impossible travel; anything unresolvable stays silent.
func (s *ActivityService) checkTravel(ctx context.Context, last *models.LoginAttempt, ip string, now time.Time) bool {
	if s.geo == nil || last.Latitude == nil || last.Longitude == nil {
		return false
	}
	lat, lon, ok := s.geo.Resolve(ctx, ip)
	if !ok {
		return false
	}

	elapsed := now.Sub(last.AttemptTime).Hours()
	if elapsed <= 0 {
		elapsed = 1.0 / 3600 // clamp to one second so clock skew cannot divide by zero
	}

	distance := haversineKm(*last.Latitude, *last.Longitude, lat, lon)
	speed := distance / elapsed

	return speed > s.maxTravelSpeed
}

// Record persists a login attempt, resolving coordinates when possible.
// Recording is best effort from the caller's perspective; an error here must
// never fail the login itself.
func (s *ActivityService) Record(ctx context.Context, tenantID, email string, userID *string, device DeviceContext, success bool, failureReason *string) error {
	now := s.clock.Now()

	attempt := &models.LoginAttempt{
		TenantID:          tenantID,
		Email:             email,
		UserID:            userID,
		IPAddress:         device.IPAddress,
		UserAgent:         device.UserAgent,
		DeviceFingerprint: device.Fingerprint,
		AttemptTime:       now,
		Success:           success,
		FailureReason:     failureReason,
		ExpiresAt:         now.Add(s.attemptRetention),
	}

	if s.geo != nil {
		if lat, lon, ok := s.geo.Resolve(ctx, device.IPAddress); ok {
			attempt.Latitude = &lat
			attempt.Longitude = &lon
		}
	}

	if err := s.attempts.RecordAttempt(ctx, attempt); err != nil {
		s.logger.Error("failed to record login attempt",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err))
		return err
	}
	return nil
}

// RecentActivity returns the user's recent attempts for the account activity
// view.
func (s *ActivityService) RecentActivity(ctx context.Context, userID string, limit int) ([]*models.LoginAttempt, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.attempts.ListRecentByUser(ctx, userID, limit)
}

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
