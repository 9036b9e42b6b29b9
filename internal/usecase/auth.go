package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
	"github.com/arklim/dispense-auth/internal/repository"
)

const tracerName = "github.com/arklim/dispense-auth/internal/usecase"

// AuthenticateRequest identifies the account by id or username.
type AuthenticateRequest struct {
	UserID   string
	Username string
	Password string
	DeviceID *string
}

// AuthService coordinates authentication flows for the transport layer.
type AuthService struct {
	accounts  port.AccountRepository
	admin     port.AccountAdmin
	events    port.EventLog
	factory   *AuthenticatorFactory
	publisher port.EventPublisher
	metrics   port.AuthMetrics
	tracer    trace.Tracer
	logger    *zap.Logger
	clock     Clock
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	accounts port.AccountRepository,
	admin port.AccountAdmin,
	events port.EventLog,
	factory *AuthenticatorFactory,
	publisher port.EventPublisher,
	metrics port.AuthMetrics,
	logger *zap.Logger,
	clock Clock,
) *AuthService {
	return &AuthService{
		accounts:  accounts,
		admin:     admin,
		events:    events,
		factory:   factory,
		publisher: publisher,
		metrics:   metricsOrNoop(metrics),
		tracer:    otel.Tracer(tracerName),
		logger:    loggerOrNop(logger),
		clock:     clockOrDefault(clock),
	}
}

// Authenticate resolves the account, selects its backend and returns the structured result.
// Unknown accounts are reported as IncorrectPassword so callers cannot enumerate user ids.
func (s *AuthService) Authenticate(ctx context.Context, req AuthenticateRequest) (domain.AuthenticationResult, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Authenticate")
	defer span.End()

	if strings.TrimSpace(req.UserID) == "" && strings.TrimSpace(req.Username) == "" {
		return domain.AuthenticationResult{}, ErrIdentifierRequired
	}
	if req.Password == "" {
		return domain.AuthenticationResult{}, ErrPasswordRequired
	}

	account, err := s.resolve(ctx, req.UserID, req.Username)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			result := domain.NewResult(domain.OutcomeIncorrectPassword, domain.ReasonUserNotFound, nil)
			s.metrics.ObserveOutcome(domain.BackendLocal, result.Outcome)
			span.SetAttributes(attribute.String("auth.outcome", string(result.Outcome)))
			return result, nil
		}
		return domain.AuthenticationResult{}, s.fail(span, err)
	}
	span.SetAttributes(attribute.String("auth.user_id", account.ID))

	auth, err := s.factory.For(ctx, account)
	if err != nil {
		return domain.AuthenticationResult{}, s.fail(span, err)
	}

	creds := domain.Credentials{Username: account.Username, Password: req.Password, DeviceID: req.DeviceID}
	result, err := auth.Authenticate(ctx, creds, account)
	if err != nil {
		s.logger.Error("authentication failed", zap.String("user_id", account.ID), zap.String("backend", string(auth.Kind())), zap.Error(err))
		return domain.AuthenticationResult{}, s.fail(span, err)
	}

	s.metrics.ObserveOutcome(auth.Kind(), result.Outcome)
	span.SetAttributes(
		attribute.String("auth.backend", string(auth.Kind())),
		attribute.String("auth.outcome", string(result.Outcome)),
	)

	fields := []zap.Field{
		zap.String("user_id", account.ID),
		zap.String("backend", string(auth.Kind())),
		zap.String("outcome", string(result.Outcome)),
	}
	if result.Reason != domain.ReasonNone {
		fields = append(fields, zap.String("reason", string(result.Reason)))
	}
	if result.IsAuthenticated() {
		s.logger.Info("authentication completed", fields...)
	} else {
		s.logger.Warn("authentication rejected", fields...)
	}
	return result, nil
}

// VerifyStatus reports whether the account may currently authenticate.
func (s *AuthService) VerifyStatus(ctx context.Context, userID string) (domain.AuthenticationResult, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.VerifyStatus")
	defer span.End()

	account, auth, err := s.authenticatorFor(ctx, userID)
	if err != nil {
		return domain.AuthenticationResult{}, s.fail(span, err)
	}
	return auth.VerifyStatus(ctx, account)
}

// ListPasswordRules returns the human-readable rules of the account's backend.
func (s *AuthService) ListPasswordRules(ctx context.Context, userID string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.ListPasswordRules")
	defer span.End()

	_, auth, err := s.authenticatorFor(ctx, userID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	rules, err := auth.ListPasswordRules(ctx)
	if err != nil {
		return nil, s.fail(span, err)
	}
	return rules, nil
}

// GetMaxPasswordAge returns the maximum password age of the account's backend.
func (s *AuthService) GetMaxPasswordAge(ctx context.Context, userID string) (domain.MaxPasswordAge, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.GetMaxPasswordAge")
	defer span.End()

	_, auth, err := s.authenticatorFor(ctx, userID)
	if err != nil {
		return domain.MaxPasswordAge{}, s.fail(span, err)
	}
	age, err := auth.GetMaxPasswordAge(ctx)
	if err != nil {
		return domain.MaxPasswordAge{}, s.fail(span, err)
	}
	return age, nil
}

// ChangePassword changes the password on the account's backend and announces the change.
func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (domain.AuthenticationResult, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.ChangePassword")
	defer span.End()

	if oldPassword == "" || newPassword == "" {
		return domain.AuthenticationResult{}, ErrPasswordRequired
	}

	account, auth, err := s.authenticatorFor(ctx, userID)
	if err != nil {
		return domain.AuthenticationResult{}, s.fail(span, err)
	}

	result, err := auth.ChangePassword(ctx, account, oldPassword, newPassword)
	if err != nil {
		return domain.AuthenticationResult{}, err
	}
	if result.Outcome != domain.OutcomeSuccessful {
		s.logger.Warn("password change rejected", zap.String("user_id", account.ID), zap.String("outcome", string(result.Outcome)))
		return result, nil
	}

	s.logger.Info("password changed", zap.String("user_id", account.ID), zap.String("backend", string(auth.Kind())))
	if s.publisher != nil {
		event := domain.PasswordChangedEvent{
			EventID:   uuid.NewString(),
			UserID:    account.ID,
			ChangedAt: s.clock(),
			Backend:   auth.Kind(),
		}
		if err := s.publisher.PublishPasswordChanged(ctx, event); err != nil {
			s.logger.Warn("publish password changed event failed", zap.String("user_id", account.ID), zap.Error(err))
		}
	}
	return result, nil
}

// UnlockAccount clears the lock flag and records the unlock so the lockout window restarts.
// Unlocking an account that is not locked is a no-op and returns false.
func (s *AuthService) UnlockAccount(ctx context.Context, userID, actor string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.UnlockAccount")
	defer span.End()

	if _, err := s.resolve(ctx, userID, ""); err != nil {
		return false, s.fail(span, err)
	}

	changed, err := s.admin.UnlockAccount(ctx, userID)
	if err != nil {
		return false, s.fail(span, fmt.Errorf("unlock account: %w", err))
	}
	if !changed {
		return false, nil
	}

	now := s.clock()
	if err := s.events.RecordUnlock(ctx, userID, now); err != nil {
		return true, s.fail(span, fmt.Errorf("record unlock: %w", err))
	}

	s.logger.Info("account unlocked", zap.String("user_id", userID), zap.String("actor", actor))
	if s.publisher != nil {
		event := domain.AccountUnlockedEvent{
			EventID:    uuid.NewString(),
			UserID:     userID,
			UnlockedAt: now,
			UnlockedBy: actor,
		}
		if err := s.publisher.PublishAccountUnlocked(ctx, event); err != nil {
			s.logger.Warn("publish account unlocked event failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return true, nil
}

// PruneEvents deletes attempt events older than retention.
func (s *AuthService) PruneEvents(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	removed, err := s.events.Prune(ctx, s.clock().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return removed, nil
}

func (s *AuthService) authenticatorFor(ctx context.Context, userID string) (*domain.UserAccount, Authenticator, error) {
	account, err := s.resolve(ctx, userID, "")
	if err != nil {
		return nil, nil, err
	}
	auth, err := s.factory.For(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	return account, auth, nil
}

func (s *AuthService) resolve(ctx context.Context, userID, username string) (*domain.UserAccount, error) {
	var (
		account *domain.UserAccount
		err     error
	)
	switch {
	case strings.TrimSpace(userID) != "":
		account, err = s.accounts.GetByID(ctx, strings.TrimSpace(userID))
	case strings.TrimSpace(username) != "":
		account, err = s.accounts.GetByUsername(ctx, strings.TrimSpace(username))
	default:
		return nil, ErrIdentifierRequired
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	return account, nil
}

func (s *AuthService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
