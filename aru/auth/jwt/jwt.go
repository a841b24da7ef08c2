package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/impulsar/lib-aru/aru/auth"
	"github.com/impulsar/lib-aru/aru/balance"
)

const (
	// AlgHS256 identifies the HMAC-SHA256 signing algorithm.
	AlgHS256 = "HS256"
	// AlgHS384 identifies the HMAC-SHA384 signing algorithm.
	AlgHS384 = "HS384"
	// AlgHS512 identifies the HMAC-SHA512 signing algorithm.
	AlgHS512 = "HS512"

	minSecretLength = 32
	maxTokenLength  = 8192
)

var (
	// ErrInvalidToken is returned for any token that does not verify.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for a token whose exp is in the past.
	ErrTokenExpired = errors.New("token has expired")
	// ErrMissingSubject is returned when a verified token has no sub claim.
	ErrMissingSubject = errors.New("token has no subject")
	// ErrWeakSecret is returned when the signing secret is too short.
	ErrWeakSecret = fmt.Errorf("secret must be at least %d bytes", minSecretLength)
)

// Claims are the registered claims ledger tokens carry.
type Claims = jwt.RegisteredClaims

// Config configures a Verifier.
type Config struct {
	Secret []byte
	// Issuer, when set, must match the iss claim.
	Issuer string
	// Algorithms defaults to HS256 only.
	Algorithms []string
	Leeway     time.Duration
	Now        func() time.Time
}

// Verifier verifies bearer tokens.
type Verifier struct {
	cfg Config
}

// NewVerifier validates cfg and returns a Verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, ErrWeakSecret
	}

	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = []string{AlgHS256}
	}

	for _, alg := range cfg.Algorithms {
		switch alg {
		case AlgHS256, AlgHS384, AlgHS512:
		default:
			return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
		}
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Verifier{cfg: cfg}, nil
}

// Verify checks the signature and time claims of token and returns the
// identity named by its subject. Expired tokens return ErrTokenExpired and
// every other failure returns ErrInvalidToken or ErrMissingSubject.
func (v *Verifier) Verify(token string) (auth.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > maxTokenLength {
		return auth.Anonymous, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.Algorithms),
		jwt.WithTimeFunc(v.cfg.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.cfg.Leeway),
	}

	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}

	var claims Claims

	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.cfg.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return auth.Anonymous, ErrTokenExpired
		}

		return auth.Anonymous, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return auth.Anonymous, ErrMissingSubject
	}

	return auth.Identity{Account: balance.AccountID(subject)}, nil
}

// Issue signs a token for account valid for ttl, using the first configured
// algorithm. ledgerd uses it for local tooling; production tokens come from
// the identity provider.
func (v *Verifier) Issue(account balance.AccountID, ttl time.Duration) (string, error) {
	if account == "" {
		return "", ErrMissingSubject
	}

	now := v.cfg.Now()
	claims := Claims{
		Subject:   string(account),
		Issuer:    v.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.GetSigningMethod(v.cfg.Algorithms[0]), claims).SignedString(v.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}
