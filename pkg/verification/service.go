package verification

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/config"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/errors"
)

// Service issues and checks out-of-band verification codes. Codes are
// stored only as bcrypt hashes, expire after a TTL, survive a bounded
// number of wrong guesses and are consumed by the first successful check.
type Service struct {
	store   *CodeStore
	sender  Sender
	limiter *SendLimiter
	cfg     config.VerificationConfig

	now func() time.Time
}

// NewService creates a verification service delivering codes through the
// given sender
func NewService(sender Sender, cfg config.VerificationConfig) *Service {
	return &Service{
		store:   NewCodeStore(),
		sender:  sender,
		limiter: NewSendLimiter(cfg.SendBurst, cfg.SendRefill),
		cfg:     cfg,
		now:     time.Now,
	}
}

// SendCode generates a fresh numeric code for the identifier, stores its
// hash and hands the plaintext to the sender. A failed delivery leaves no
// outstanding code behind.
func (s *Service) SendCode(ctx context.Context, identifier string) error {
	if identifier == "" {
		return errors.New(errors.ErrCodeMissingRequired, "verification identifier is required")
	}
	if !s.limiter.Allow(identifier) {
		return errors.New(errors.ErrCodeTooManyAttempts, "too many verification codes requested")
	}

	code, err := generateNumericCode(s.cfg.CodeLength)
	if err != nil {
		return errors.InternalWrap(err, "cannot generate verification code")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return errors.InternalWrap(err, "cannot hash verification code")
	}

	s.store.put(identifier, codeEntry{
		hash:         hash,
		expiresAt:    s.now().Add(s.cfg.CodeTTL),
		attemptsLeft: s.cfg.MaxAttempts,
	})

	if err := s.sender.Send(ctx, identifier, code); err != nil {
		s.store.remove(identifier)
		slog.Error("verification code delivery failed", "identifier", identifier, "error", err)
		return errors.Wrap(err, errors.ErrCodeInternal, "cannot deliver verification code")
	}
	return nil
}

// CheckCode verifies a code and consumes it on success. One successful
// check invalidates the code; each failed check burns an attempt, and an
// exhausted budget invalidates the code as well.
func (s *Service) CheckCode(_ context.Context, identifier, code string) error {
	return s.store.consume(identifier, func(entry *codeEntry) (bool, error) {
		if entry == nil {
			return false, errors.New(errors.ErrCodeCodeInvalid, "no verification code outstanding")
		}
		if s.now().After(entry.expiresAt) {
			return true, errors.New(errors.ErrCodeCodeExpired, "verification code expired")
		}
		if entry.attemptsLeft <= 0 {
			return true, errors.New(errors.ErrCodeTooManyAttempts, "verification attempts exhausted")
		}

		if err := bcrypt.CompareHashAndPassword(entry.hash, []byte(code)); err != nil {
			entry.attemptsLeft--
			if entry.attemptsLeft <= 0 {
				return true, errors.New(errors.ErrCodeTooManyAttempts, "verification attempts exhausted")
			}
			return false, errors.New(errors.ErrCodeCodeInvalid, "verification code does not match")
		}
		return true, nil
	})
}

// generateNumericCode draws a uniformly random numeric string of the given
// length
func generateNumericCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
