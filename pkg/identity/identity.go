package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"britepool/pkg/config"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"go.uber.org/fx"
)

var Module = fx.Module("identity", fx.Provide(NewFromConfig))

const (
	RoleMember  = "member"
	RoleSteward = "steward"
	RoleAdmin   = "admin"

	issuer = "britepool"

	// HS256 keys shorter than this are refused by go-jose
	MinKeySize = 32

	// substituted for an empty SESSION.SECRET; NewFromConfig refuses it in production
	developmentSecret = "britepool-development-secret-change-me"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoActor      = errors.New("no actor in context")
)

// Actor is the authenticated member performing a request.
type Actor struct {
	MemberID string `json:"member_id"`
	Role     string `json:"role"`
}

type claims struct {
	Role string `json:"role"`
}

// Signer issues and verifies HS256 identity tokens.
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewFromConfig(cfg *config.Config) (*Signer, error) {
	secret := cfg.Session.Secret
	if secret == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("SESSION.SECRET must be set in production")
		}
		secret = developmentSecret
	}
	return NewSigner([]byte(secret), cfg.Session.TTL)
}

func NewSigner(key []byte, ttl time.Duration) (*Signer, error) {
	if len(key) < MinKeySize {
		return nil, fmt.Errorf("identity key must be at least %d bytes, got %d", MinKeySize, len(key))
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Signer{key: key, ttl: ttl, now: time.Now}, nil
}

// Issue returns a compact JWS for actor valid for the signer TTL.
func (s *Signer) Issue(actor Actor) (string, error) {
	if actor.MemberID == "" {
		return "", fmt.Errorf("member id is required")
	}
	if actor.Role == "" {
		actor.Role = RoleMember
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: s.key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}

	now := s.now()
	std := jwt.Claims{
		Issuer:    issuer,
		Subject:   actor.MemberID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(s.ttl)),
	}

	return jwt.Signed(sig).Claims(std).Claims(claims{Role: actor.Role}).Serialize()
}

// Verify checks signature, issuer and validity window, returning the actor.
func (s *Signer) Verify(raw string) (Actor, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var std jwt.Claims
	var custom claims
	if err := tok.Claims(s.key, &std, &custom); err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if err := std.Validate(jwt.Expected{Issuer: issuer, Time: s.now()}); err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if std.Subject == "" {
		return Actor{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Actor{MemberID: std.Subject, Role: custom.Role}, nil
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func FromContext(ctx context.Context) (Actor, error) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || a.MemberID == "" {
		return Actor{}, ErrNoActor
	}
	return a, nil
}
