// Package verifier checks signed platform tokens presented alongside relay
// requests. The relay only sees accept or reject.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clawpulse/syncrelay/internal/config"
)

// ErrMissingToken is returned when no platform token was presented.
var ErrMissingToken = errors.New("platform token missing")

// Verifier validates JWT platform tokens against one key.
type Verifier struct {
	parser *jwt.Parser
	key    any
}

// Option customizes a Verifier.
type Option func(*options)

type options struct {
	clock  func() time.Time
	leeway time.Duration
}

// WithClock overrides the time used for exp/nbf checks.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithLeeway allows clock skew when checking exp/nbf.
func WithLeeway(leeway time.Duration) Option {
	return func(o *options) {
		o.leeway = leeway
	}
}

// New builds a verifier from configuration. An HMAC secret selects the HS
// family; otherwise the PEM public key at PublicKeyPath selects RS/PS, ES or
// EdDSA depending on its type.
func New(cfg config.VerifierConfig, opts ...Option) (*Verifier, error) {
	o := options{leeway: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	key, methods, err := loadKey(cfg)
	if err != nil {
		return nil, err
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(o.leeway),
	}
	if issuer := strings.TrimSpace(cfg.Issuer); issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}
	if audience := strings.TrimSpace(cfg.Audience); audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(audience))
	}
	if o.clock != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(o.clock))
	}

	return &Verifier{parser: jwt.NewParser(parserOpts...), key: key}, nil
}

// Verify returns nil when attestation is a valid, unexpired token signed by
// the configured key.
func (v *Verifier) Verify(ctx context.Context, attestation string) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	attestation = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(attestation), "Bearer "))
	if attestation == "" {
		return ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	token, err := v.parser.ParseWithClaims(attestation, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return fmt.Errorf("verify platform token: %w", err)
	}
	if !token.Valid {
		return errors.New("verify platform token: token is invalid")
	}

	return nil
}

func loadKey(cfg config.VerifierConfig) (any, []string, error) {
	if secret := cfg.HMACSecret; secret != "" {
		return []byte(secret), []string{"HS256", "HS384", "HS512"}, nil
	}

	path := strings.TrimSpace(cfg.PublicKeyPath)
	if path == "" {
		return nil, nil, errors.New("verifier requires hmac_secret or public_key_path")
	}

	// #nosec G304 -- operator-supplied key path
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read verifier public key: %w", err)
	}

	if key, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return key, []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		return key, []string{"ES256", "ES384", "ES512"}, nil
	}
	if key, err := jwt.ParseEdPublicKeyFromPEM(data); err == nil {
		return key, []string{"EdDSA"}, nil
	}

	return nil, nil, fmt.Errorf("unsupported verifier public key in %s", path)
}
