package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rl1809/baller-exchange/internal/core/domain"
)

var errInvalidToken = errors.New("invalid token")

// Identity is what a verified token says about its bearer.
type Identity struct {
	UserID  string
	Profile domain.Profile
}

// TokenVerifier checks bearer tokens issued by the identity provider.
type TokenVerifier struct {
	key       any
	methods   []string
	userClaim string
	issuer    string
}

func NewHMACVerifier(secret []byte, userClaim, issuer string) *TokenVerifier {
	return &TokenVerifier{
		key:       secret,
		methods:   []string{jwt.SigningMethodHS256.Alg()},
		userClaim: claimOrDefault(userClaim),
		issuer:    issuer,
	}
}

// NewRSAVerifier accepts RS256 tokens signed by the holder of the private
// half of pemKey.
func NewRSAVerifier(pemKey []byte, userClaim, issuer string) (*TokenVerifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &TokenVerifier{
		key:       key,
		methods:   []string{jwt.SigningMethodRS256.Alg()},
		userClaim: claimOrDefault(userClaim),
		issuer:    issuer,
	}, nil
}

func (v *TokenVerifier) Verify(raw string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods(v.methods), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}

	userID, _ := claims[v.userClaim].(string)
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: missing %s claim", errInvalidToken, v.userClaim)
	}

	id := Identity{UserID: userID}
	id.Profile.DisplayName, _ = claims["name"].(string)
	id.Profile.AvatarURL, _ = claims["picture"].(string)
	return id, nil
}

func claimOrDefault(claim string) string {
	if claim == "" {
		return "sub"
	}
	return claim
}

// bearerToken extracts the token from an "Authorization: Bearer" value.
func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

type userKey struct{}

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID returns the verified caller of a request.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
