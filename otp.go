package identity

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// OTPCodeLength is the number of digits in a generated code.
const OTPCodeLength = 6

var otpCodeMax = big.NewInt(1_000_000)

// GenerateOTPCode draws a 6-digit numeric code uniformly at random,
// zero-padded.
func GenerateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpCodeMax)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to draw random code")
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// OTPEngine generates, stores, expires, and verifies one-time codes.
type OTPEngine struct {
	db       *bun.DB
	repo     OTPs
	notifier Notifier
	ttl      time.Duration
	logger   Logger
	sink     ActivitySink
	now      func() time.Time
	generate func() (string, error)
}

// NewOTPEngine creates the engine. The notifier may be nil (codes are then
// only persisted, useful in tests and for resend-driven flows).
func NewOTPEngine(db *bun.DB, repo OTPs, notifier Notifier, cfg Config) *OTPEngine {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	ttl := cfg.OTPTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &OTPEngine{
		db:       db,
		repo:     repo,
		notifier: notifier,
		ttl:      ttl,
		logger:   defLogger{},
		sink:     noopActivitySink{},
		now:      time.Now,
		generate: GenerateOTPCode,
	}
}

// WithNotifier swaps the delivery channel. Other engine settings (clock,
// code generator, sink) are untouched.
func (e *OTPEngine) WithNotifier(notifier Notifier) *OTPEngine {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	e.notifier = notifier
	return e
}

// WithLogger overrides the engine logger.
func (e *OTPEngine) WithLogger(logger Logger) *OTPEngine {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// WithActivitySink configures an ActivitySink for OTP events.
func (e *OTPEngine) WithActivitySink(sink ActivitySink) *OTPEngine {
	e.sink = normalizeActivitySink(sink)
	return e
}

// WithClock injects a custom clock (useful for tests).
func (e *OTPEngine) WithClock(clock func() time.Time) *OTPEngine {
	if clock != nil {
		e.now = clock
	}
	return e
}

// WithCodeGenerator overrides code generation (useful for tests).
func (e *OTPEngine) WithCodeGenerator(gen func() (string, error)) *OTPEngine {
	if gen != nil {
		e.generate = gen
	}
	return e
}

// Issue invalidates any existing unverified code for the (principal, channel)
// pair, persists a fresh one with expiry now + TTL, and dispatches it to the
// notifier. Notifier failure is logged and otherwise dropped: the record is
// already persisted and the principal can request a resend.
func (e *OTPEngine) Issue(ctx context.Context, user *User, channel Channel) (*OTP, error) {
	code, err := e.generate()
	if err != nil {
		return nil, err
	}

	record := &OTP{
		ID:        uuid.New(),
		UserID:    user.ID,
		Code:      code,
		Channel:   channel,
		ExpiresAt: e.now().Add(e.ttl),
	}

	err = e.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := e.repo.DeleteUnverifiedTx(ctx, tx, user.ID, channel); err != nil {
			return err
		}
		_, err := e.repo.CreateTx(ctx, tx, record)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, user, channel, code)

	e.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventOTPIssued,
		UserID:    user.ID.String(),
		Metadata:  map[string]any{"channel": channel},
	})

	return record, nil
}

// Verify looks up the most recent unverified record for the pair and checks
// the submitted code. An expired record is deleted as a side effect so it
// can never be replayed. A mismatch leaves the record live: the principal
// may retry until the expiry window closes.
func (e *OTPEngine) Verify(ctx context.Context, userID uuid.UUID, code string, channel Channel) (*OTP, error) {
	record, err := e.repo.LatestUnverified(ctx, userID, channel)
	if err != nil {
		return nil, err
	}

	if record.IsExpired(e.now()) {
		if err := e.repo.Delete(ctx, record.ID); err != nil {
			e.logger.Warn("failed to delete expired verification code: %v", err)
		}
		return nil, ErrOTPExpired
	}

	if record.Code != code {
		return nil, ErrOTPMismatch
	}

	if err := e.repo.MarkVerified(ctx, record.ID); err != nil {
		return nil, err
	}
	record.Verified = true

	e.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventOTPVerified,
		UserID:    userID.String(),
		Metadata:  map[string]any{"channel": channel},
	})

	return record, nil
}

func (e *OTPEngine) dispatch(ctx context.Context, user *User, channel Channel, code string) {
	var err error
	switch channel {
	case ChannelPhone:
		err = e.notifier.SendSMS(ctx, user.Phone, code)
	default:
		err = e.notifier.SendEmail(ctx, user.Email, code)
	}

	if err != nil {
		e.logger.Error("verification code dispatch failed channel=%s user_id=%s error=%v", channel, user.ID.String(), err)
	}
}

func (e *OTPEngine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}
	if err := normalizeActivitySink(e.sink).Record(ctx, event); err != nil {
		e.logger.Warn("otp engine activity sink error: %v", err)
	}
}
