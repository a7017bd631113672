package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	appErr "judgehub/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// RoleJudge is the role a token needs to open a worker connection.
	RoleJudge = "judge"
	// RoleAdmin may drive the queue and records but never holds tasks.
	RoleAdmin = "admin"
)

const accessTokenType = "access"

// RevocationChecker looks up revoked token hashes.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)
}

// JudgeClaims identify a worker or operator.
type JudgeClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	Name      string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// AuthService verifies HS256 bearer tokens.
type AuthService struct {
	secret  []byte
	issuer  string
	revoked RevocationChecker
}

// NewAuthService creates an auth service. revoked may be nil.
func NewAuthService(secret, issuer string, revoked RevocationChecker) *AuthService {
	return &AuthService{secret: []byte(secret), issuer: issuer, revoked: revoked}
}

// Principal is an authenticated caller.
type Principal struct {
	UserID int64
	Role   string
	Name   string
}

// Identity converts the principal into a worker identity.
func (p Principal) Identity() Identity {
	return Identity{JudgerID: p.UserID, Name: p.Name}
}

// Authenticate validates raw and returns its principal.
func (s *AuthService) Authenticate(ctx context.Context, raw string) (Principal, error) {
	if raw == "" {
		return Principal{}, appErr.New(appErr.TokenInvalid)
	}
	claims, err := s.parseToken(raw)
	if err != nil {
		return Principal{}, err
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Principal{}, appErr.New(appErr.JudgeIdentityBad)
	}
	if s.revoked != nil {
		revoked, err := s.revoked.IsRevoked(ctx, HashToken(raw))
		if err != nil {
			return Principal{}, appErr.Wrap(err, appErr.ServiceUnavailable)
		}
		if revoked {
			return Principal{}, appErr.New(appErr.TokenInvalid).WithMessage("token revoked")
		}
	}
	return Principal{UserID: userID, Role: claims.Role, Name: claims.Name}, nil
}

// IssueToken signs an access token for userID.
func (s *AuthService) IssueToken(userID int64, role, name string, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", appErr.New(appErr.ServiceUnavailable).WithMessage("auth secret is not configured")
	}
	now := time.Now()
	claims := JudgeClaims{
		Role:      role,
		TokenType: accessTokenType,
		Name:      name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *AuthService) parseToken(raw string) (*JudgeClaims, error) {
	if len(s.secret) == 0 {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &JudgeClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErr.New(appErr.TokenExpired)
		}
		return nil, appErr.New(appErr.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*JudgeClaims)
	if !ok || !parsed.Valid {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	if claims.TokenType != accessTokenType || claims.Subject == "" {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	return claims, nil
}

// HasRole reports whether role matches one of allowed, ignoring case.
func HasRole(role string, allowed ...string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}

// HashToken is the key under which a token is revoked.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
