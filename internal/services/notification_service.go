package services

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// notification is one queued delivery. send carries the bound EmailService
// call so the worker loop stays generic across email kinds.
type notification struct {
	kind string
	send func(ctx context.Context) error
}

// NotificationService delivers emails off the request path. Deliveries are
// best effort: the queue is bounded and drops when full, and each delivery is
// retried a fixed number of times before being abandoned. Authentication
// outcomes never depend on a notification landing.
type NotificationService struct {
	email      EmailService
	queue      chan notification
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger

	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// NewNotificationService creates a new NotificationService with a bounded
// queue.
func NewNotificationService(email EmailService, queueSize, maxRetries int, retryDelay time.Duration, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		email:      email,
		queue:      make(chan notification, queueSize),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Start launches the worker goroutines. Workers exit when Stop is called and
// the queue drains, or when ctx is cancelled.
func (s *NotificationService) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.logger.Info("notification dispatcher started", slog.Int("workers", workers))
}

// Stop closes the queue and waits for in-flight deliveries to finish. The
// write lock excludes every in-flight enqueue, so no send can hit the closed
// channel.
func (s *NotificationService) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.queue)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("notification dispatcher stopped")
}

func (s *NotificationService) worker(ctx context.Context) {
	defer s.wg.Done()

	for n := range s.queue {
		s.deliver(ctx, n)
	}
}

func (s *NotificationService) deliver(ctx context.Context, n notification) {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.retryDelay):
			case <-ctx.Done():
				return
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = n.send(sendCtx)
		cancel()

		if err == nil {
			return
		}

		s.logger.Warn("notification delivery failed",
			slog.String("kind", n.kind),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
	}

	s.logger.Error("notification abandoned after retries",
		slog.String("kind", n.kind),
		slog.Any("error", err))
}

// enqueue adds a notification without blocking. A full queue drops the
// notification; dropping beats stalling a login. The read lock is held across
// the send so Stop cannot close the queue underneath it.
func (s *NotificationService) enqueue(n notification) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		s.logger.Warn("notification rejected, dispatcher stopped", slog.String("kind", n.kind))
		return
	}

	select {
	case s.queue <- n:
	default:
		s.logger.Warn("notification dropped, queue full", slog.String("kind", n.kind))
	}
}

// NotifyVerification queues the email verification link.
func (s *NotificationService) NotifyVerification(email, token string, expiresAt time.Time) {
	s.enqueue(notification{
		kind: "verification",
		send: func(ctx context.Context) error {
			return s.email.SendVerificationEmail(ctx, email, token, expiresAt)
		},
	})
}

// NotifyPasswordReset queues the password reset link.
func (s *NotificationService) NotifyPasswordReset(email, token string, expiresAt time.Time) {
	s.enqueue(notification{
		kind: "password_reset",
		send: func(ctx context.Context) error {
			return s.email.SendPasswordResetEmail(ctx, email, token, expiresAt)
		},
	})
}

// NotifyMagicLink queues the passwordless sign-in link.
func (s *NotificationService) NotifyMagicLink(email, token string, expiresAt time.Time) {
	s.enqueue(notification{
		kind: "magic_link",
		send: func(ctx context.Context) error {
			return s.email.SendMagicLinkEmail(ctx, email, token, expiresAt)
		},
	})
}

// NotifyLockout queues the account lockout notice.
func (s *NotificationService) NotifyLockout(email string, unlockAt time.Time) {
	s.enqueue(notification{
		kind: "lockout",
		send: func(ctx context.Context) error {
			return s.email.SendLockoutNotice(ctx, email, unlockAt)
		},
	})
}

// NotifySecurityAlert queues a suspicious-activity alert.
func (s *NotificationService) NotifySecurityAlert(email, summary string) {
	s.enqueue(notification{
		kind: "security_alert",
		send: func(ctx context.Context) error {
			return s.email.SendSecurityAlert(ctx, email, summary)
		},
	})
}
