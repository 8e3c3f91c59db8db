// Package identity supplies display metadata for users being onboarded.
package identity

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/rl1809/baller-exchange/internal/core/domain"
)

type profileKey struct{}

// WithProfile attaches the profile carried by the caller's credentials.
func WithProfile(ctx context.Context, p domain.Profile) context.Context {
	return context.WithValue(ctx, profileKey{}, p)
}

func profileFromContext(ctx context.Context) (domain.Profile, bool) {
	p, ok := ctx.Value(profileKey{}).(domain.Profile)
	return p, ok
}

var errNoUser = errors.New("identity: empty user id")

// ClaimsSource returns the profile attached to the request context by the
// token verifier, or a generated name when the token carried none.
type ClaimsSource struct {
	namePrefix string
}

func NewClaimsSource(namePrefix string) *ClaimsSource {
	if namePrefix == "" {
		namePrefix = "baller"
	}
	return &ClaimsSource{namePrefix: namePrefix}
}

func (s *ClaimsSource) Profile(ctx context.Context, userID string) (domain.Profile, error) {
	if userID == "" {
		return domain.Profile{}, errNoUser
	}
	if p, ok := profileFromContext(ctx); ok && p.DisplayName != "" {
		p.DisplayName = sanitize(p.DisplayName)
		if p.DisplayName != "" {
			return p, nil
		}
	}
	return domain.Profile{DisplayName: s.generatedName(userID)}, nil
}

func (s *ClaimsSource) generatedName(userID string) string {
	suffix := sanitize(userID)
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return s.namePrefix + "_" + suffix
}

// sanitize keeps display names searchable: no whitespace, percent or
// backslash, at most 64 bytes.
func sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		if r == '%' || r == '\\' {
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	if len(name) > 64 {
		name = strings.ToValidUTF8(name[:64], "")
	}
	return name
}
