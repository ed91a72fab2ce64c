// Package auth classifies the caller behind a request as a host, a
// participant or anonymous. Authorization decisions belong to the session
// controller.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/form3tech-oss/jwt-go"

	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

// Request headers and query parameters carrying credentials.
const (
	HeaderAuthorization    = "Authorization"
	HeaderParticipantToken = "X-Participant-Token"
	QueryToken             = "token"
	QueryAccessToken       = "access_token"
)

// RoleAdmin in a host token's role claim elevates the host to admin.
const RoleAdmin = "admin"

// Config holds token settings.
type Config struct {
	JWTSecret           string
	Issuer              string
	HostTokenTTL        time.Duration
	ParticipantTokenTTL time.Duration
}

// DefaultConfig returns 12h host tokens and 24h participant tokens.
func DefaultConfig() Config {
	return Config{
		Issuer:              "playsession",
		HostTokenTTL:        12 * time.Hour,
		ParticipantTokenTTL: 24 * time.Hour,
	}
}

// ParticipantLookup finds a participant by session-scoped token.
type ParticipantLookup interface {
	GetParticipantByToken(ctx context.Context, sessionID, token string) (*types.Participant, error)
}

// HostClaims are the claims of a host bearer token.
type HostClaims struct {
	Role string `json:"role,omitempty"`
	jwt.StandardClaims
}

// Resolver implements the session viewer resolver.
type Resolver struct {
	secret       []byte
	issuer       string
	hostTTL      time.Duration
	participants ParticipantLookup
	now          func() time.Time
}

// NewResolver validates cfg and creates a resolver.
func NewResolver(cfg Config, participants ParticipantLookup) (*Resolver, error) {
	if len(cfg.JWTSecret) < 16 {
		return nil, ErrSecretRequired
	}
	if cfg.HostTokenTTL <= 0 {
		cfg.HostTokenTTL = DefaultConfig().HostTokenTTL
	}
	return &Resolver{
		secret:       []byte(cfg.JWTSecret),
		issuer:       cfg.Issuer,
		hostTTL:      cfg.HostTokenTTL,
		participants: participants,
		now:          time.Now,
	}, nil
}

// Resolve classifies the request. sessionID scopes participant tokens and
// may be empty for routes that are not session-scoped. Presented but invalid
// credentials are an error; no credentials at all yield the anonymous viewer.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request, sessionID string) (types.Viewer, error) {
	if bearer := bearerToken(req); bearer != "" {
		return r.ParseHostToken(bearer)
	}

	token := strings.TrimSpace(req.Header.Get(HeaderParticipantToken))
	if token == "" {
		token = strings.TrimSpace(req.URL.Query().Get(QueryToken))
	}
	if token == "" {
		return types.Anonymous(), nil
	}
	if sessionID == "" {
		return types.Viewer{}, fmt.Errorf("%w: %w", interfaces.ErrUnauthenticated, ErrParticipantTokenUsage)
	}
	return r.resolveParticipant(ctx, sessionID, token)
}

func (r *Resolver) resolveParticipant(ctx context.Context, sessionID, token string) (types.Viewer, error) {
	p, err := r.participants.GetParticipantByToken(ctx, sessionID, token)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return types.Viewer{}, fmt.Errorf("%w: %w", interfaces.ErrUnauthenticated, ErrInvalidToken)
		}
		return types.Viewer{}, fmt.Errorf("failed to look up participant token: %w", err)
	}
	if !r.now().Before(p.TokenExpiresAt) {
		return types.Viewer{}, fmt.Errorf("%w: %w", interfaces.ErrUnauthenticated, ErrInvalidToken)
	}
	return types.Viewer{
		Kind:          types.ViewerParticipant,
		ParticipantID: p.ID,
		SessionID:     p.SessionID,
	}, nil
}

// ParseHostToken verifies an HS256 host token.
func (r *Resolver) ParseHostToken(raw string) (types.Viewer, error) {
	claims := &HostClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !token.Valid {
		return types.Viewer{}, fmt.Errorf("%w: %w", interfaces.ErrUnauthenticated, ErrInvalidToken)
	}
	if !types.IsValidUserID(claims.Subject) {
		return types.Viewer{}, fmt.Errorf("%w: %w", interfaces.ErrUnauthenticated, ErrInvalidToken)
	}
	if r.issuer != "" && claims.Issuer != "" && claims.Issuer != r.issuer {
		return types.Viewer{}, fmt.Errorf("%w: %w", interfaces.ErrUnauthenticated, ErrInvalidToken)
	}
	return types.Viewer{
		Kind:    types.ViewerHost,
		UserID:  claims.Subject,
		IsAdmin: claims.Role == RoleAdmin,
	}, nil
}

// IssueHostToken mints a host token. Identity provisioning lives elsewhere;
// this exists for the token command and tests.
func (r *Resolver) IssueHostToken(userID string, admin bool) (string, error) {
	if !types.IsValidUserID(userID) {
		return "", types.ErrInvalidUserID
	}
	now := r.now()
	claims := HostClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   userID,
			Issuer:    r.issuer,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(r.hostTTL).Unix(),
		},
	}
	if admin {
		claims.Role = RoleAdmin
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

// NewParticipantToken returns a random 256-bit hex token.
func NewParticipantToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate participant token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func bearerToken(req *http.Request) string {
	header := strings.TrimSpace(req.Header.Get(HeaderAuthorization))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(req.URL.Query().Get(QueryAccessToken))
}
