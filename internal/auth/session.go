package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// DefaultDisplayName labels a signed-in user with no usable profile name.
const DefaultDisplayName = "GitHub user"

type UserMetadata struct {
	UserName          string `json:"user_name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	FullName          string `json:"full_name,omitempty"`
	AvatarURL         string `json:"avatar_url,omitempty"`
}

type User struct {
	ID           string       `json:"id"`
	Email        string       `json:"email,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata"`
}

// Session is the identity service's session as returned by its token
// endpoint. ProviderToken is the upstream GitHub access token, present only
// when the provider is configured to hand it out.
type Session struct {
	AccessToken          string `json:"access_token"`
	TokenType            string `json:"token_type,omitempty"`
	ExpiresIn            int64  `json:"expires_in,omitempty"`
	ExpiresAt            int64  `json:"expires_at,omitempty"`
	RefreshToken         string `json:"refresh_token,omitempty"`
	ProviderToken        string `json:"provider_token,omitempty"`
	ProviderRefreshToken string `json:"provider_refresh_token,omitempty"`
	User                 User   `json:"user"`
}

// UserID is safe to call on a nil session.
func (s *Session) UserID() string {
	if s == nil {
		return ""
	}
	return s.User.ID
}

// HasProviderToken reports whether the session carries an upstream token.
func (s *Session) HasProviderToken() bool {
	return s != nil && strings.TrimSpace(s.ProviderToken) != ""
}

// DisplayName picks the first non-empty of user_name, preferred_username and
// email.
func (s *Session) DisplayName() string {
	if s == nil {
		return ""
	}
	for _, name := range []string{
		s.User.UserMetadata.UserName,
		s.User.UserMetadata.PreferredUsername,
		s.User.Email,
	} {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return DefaultDisplayName
}

// Expiry returns when the access token expires. Sessions without expires_at
// fall back to the token's exp claim; the zero time means unknown.
func (s *Session) Expiry() time.Time {
	if s == nil {
		return time.Time{}
	}
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	if s.AccessToken == "" {
		return time.Time{}
	}

	// The identity service signed it; the client only needs the claim
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Token exposes the session as an oauth2 token.
func (s *Session) Token() *oauth2.Token {
	if s == nil {
		return nil
	}
	tokenType := s.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    tokenType,
		RefreshToken: s.RefreshToken,
		Expiry:       s.Expiry(),
	}
}

// Clone returns a deep copy; nil stays nil.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func (s *Session) normalize(now time.Time) {
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
}
