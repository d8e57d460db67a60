package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kislikjeka/pocketflow/pkg/logger"
)

// Issuer is the iss claim of operator tokens
const Issuer = "pocketflow"

// DefaultTokenTTL is the lifetime of a minted operator token
const DefaultTokenTTL = 24 * time.Hour

// ErrMissingProfile is returned for tokens without a profile claim
var ErrMissingProfile = errors.New("token has no profile claim")

// Claims represents the JWT claims of an operator token. Profile scopes every
// request to one budget profile.
type Claims struct {
	Profile string `json:"profile"`
	jwt.RegisteredClaims
}

// JWTService handles JWT token generation and validation
type JWTService struct {
	secret []byte
	now    func() time.Time
}

// NewJWTService creates a new JWT service
func NewJWTService(secret string) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// GenerateToken mints a token for a profile. subject names the operator.
func (s *JWTService) GenerateToken(profile, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(profile) == "" {
		return "", ErrMissingProfile
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := s.now()
	claims := &Claims{
		Profile: profile,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(Issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Profile == "" {
		return nil, ErrMissingProfile
	}
	return claims, nil
}

// JWTMiddleware rejects requests without a valid bearer token and puts the
// token's profile into the request context
func JWTMiddleware(jwtService *JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization header")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
				unauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			noteProfile(r.Context(), claims.Profile)
			ctx := WithProfile(r.Context(), claims.Profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithProfile stores the acting profile in the context
func WithProfile(ctx context.Context, profile string) context.Context {
	return context.WithValue(ctx, logger.ProfileKey, profile)
}

// GetProfileFromContext extracts the profile set by JWTMiddleware
func GetProfileFromContext(ctx context.Context) (string, bool) {
	profile, ok := ctx.Value(logger.ProfileKey).(string)
	return profile, ok && profile != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, msg)
}
