package identityheader

import (
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/errors"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/fingerprint"
)

// Header is the decoded cross-browser identity header. DeviceID may be
// empty on characteristics-only headers, in which case Characteristics must
// be present.
type Header struct {
	DeviceID        string
	OwnerGUID       string
	OwnerHandle     string
	Characteristics *fingerprint.Snapshot
}

// claims is the JWT payload shape of an identity header
type claims struct {
	DeviceID        string                `json:"device_id,omitempty"`
	OwnerGUID       string                `json:"owner_guid,omitempty"`
	OwnerHandle     string                `json:"owner_handle,omitempty"`
	Characteristics *fingerprint.Snapshot `json:"characteristics,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies identity headers with a shared HS256 secret
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewCodec creates a codec. TTL bounds the lifetime of encoded headers.
func NewCodec(secret, issuer string, ttl time.Duration) *Codec {
	return &Codec{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
	}
}

// Encode signs a header into its compact JWT form
func (c *Codec) Encode(h Header) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		DeviceID:        h.DeviceID,
		OwnerGUID:       h.OwnerGUID,
		OwnerHandle:     h.OwnerHandle,
		Characteristics: h.Characteristics,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Minute)),
			Issuer:    c.issuer,
			Subject:   h.DeviceID,
			ID:        uuid.New().String(),
		},
	})

	ss, err := token.SignedString(c.secret)
	if err != nil {
		slog.Error("Failed to sign identity header", "err", err)
		return "", errors.InternalWrap(err, "failed to sign identity header")
	}
	return ss, nil
}

// Decode verifies a compact JWT identity header and returns its payload.
// Malformed, expired or badly-signed tokens fail with VALIDATION_FAILED
// before any store is touched.
func (c *Codec) Decode(tokenStr string) (Header, error) {
	var cl claims
	token, err := jwt.ParseWithClaims(tokenStr, &cl, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Newf(errors.ErrCodeValidationFailed, "unexpected signing method: %s", token.Method.Alg())
		}
		return c.secret, nil
	})
	if err != nil {
		slog.Warn("Rejected identity header", "err", err)
		return Header{}, errors.Wrap(err, errors.ErrCodeValidationFailed, "invalid identity header")
	}
	if !token.Valid {
		return Header{}, errors.New(errors.ErrCodeValidationFailed, "invalid identity header")
	}

	h := Header{
		DeviceID:        cl.DeviceID,
		OwnerGUID:       cl.OwnerGUID,
		OwnerHandle:     cl.OwnerHandle,
		Characteristics: cl.Characteristics,
	}
	if h.DeviceID == "" && h.Characteristics == nil {
		return Header{}, errors.New(errors.ErrCodeValidationFailed, "identity header carries neither device id nor characteristics")
	}
	return h, nil
}
