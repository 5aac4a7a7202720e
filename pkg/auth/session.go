package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/types"
)

const (
	defaultSessionTTL = 24 * time.Hour
	defaultIssuer     = "synopsis"
)

var ErrMissingSubject = errors.New("session has no subject")

// Claims identifies the owner a session belongs to. The owner id is the subject.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SessionManager signs and validates HS256 session tokens
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	clock  common.Clock
}

func NewSessionManager(cfg types.AuthConfig, clock common.Clock) *SessionManager {
	secret := cfg.SessionSecret
	if secret == "" {
		// sessions won't survive a restart
		b := make([]byte, 32)
		rand.Read(b)
		secret = hex.EncodeToString(b)
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = defaultIssuer
	}
	return &SessionManager{secret: []byte(secret), ttl: ttl, issuer: issuer, clock: clock}
}

// Create issues a session token for ownerId
func (s *SessionManager) Create(ownerId, email string) (string, error) {
	now := s.clock.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerId,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate parses a session token and checks its signature, issuer and expiry
func (s *SessionManager) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}
