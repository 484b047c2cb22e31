package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"neighbourhood-chat/internal/apperrors"
	"neighbourhood-chat/internal/ids"
	"neighbourhood-chat/internal/logger"
	"neighbourhood-chat/internal/principal"
)

const principalKey = "principal"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the payload of access tokens issued by the auth service.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// TokenManager verifies HS256 access tokens.
type TokenManager struct {
	secretKey []byte
}

// NewTokenManager creates a TokenManager for secret.
func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secretKey: []byte(secret)}
}

// Issue signs a token for p; used by tooling and tests.
func (m *TokenManager) Issue(p principal.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: p.UserID,
		Role:   p.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// Verify parses tokenString into a principal.
func (m *TokenManager) Verify(tokenString string) (principal.Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return principal.Principal{}, ErrExpiredToken
		}
		return principal.Principal{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return principal.Principal{}, ErrInvalidToken
	}
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if !ids.Valid(userID) {
		return principal.Principal{}, ErrInvalidToken
	}
	role := claims.Role
	if role != principal.RoleAdmin {
		role = principal.RoleUser
	}
	return principal.Principal{UserID: userID, Role: role}, nil
}

// Verifier turns a bearer token into a principal.
type Verifier interface {
	Verify(token string) (principal.Principal, error)
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// Auth requires a valid bearer token and stores the principal in both the gin
// context and the request context.
func Auth(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			Abort(c, apperrors.Unauthenticated(apperrors.CodeUnauthorized, "Authentication required"))
			return
		}
		token, ok := BearerToken(header)
		if !ok {
			Abort(c, apperrors.Unauthenticated(apperrors.CodeUnauthorized, "Invalid authorization header"))
			return
		}

		p, err := verifier.Verify(token)
		if err != nil {
			message := "Invalid token"
			if errors.Is(err, ErrExpiredToken) {
				message = "Token expired"
			}
			Abort(c, apperrors.Unauthenticated(apperrors.CodeInvalidToken, message))
			return
		}

		SetPrincipal(c, p)
		c.Next()
	}
}

// SetPrincipal installs p for the rest of the request.
func SetPrincipal(c *gin.Context, p principal.Principal) {
	c.Set(principalKey, p)
	ctx := principal.WithPrincipal(c.Request.Context(), p)
	l := logger.FromContext(ctx).With().Str("user_id", p.UserID).Logger()
	c.Request = c.Request.WithContext(l.WithContext(ctx))
}

// PrincipalFrom returns the authenticated principal of the request.
func PrincipalFrom(c *gin.Context) (principal.Principal, bool) {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(principal.Principal); ok && p.UserID != "" {
			return p, true
		}
	}
	return principal.FromContext(c.Request.Context())
}

// Abort writes err as the standard error body and stops the chain.
func Abort(c *gin.Context, err *apperrors.Error) {
	c.AbortWithStatusJSON(err.HTTPStatus(), apperrors.ToBody(err, time.Now(), false))
}
