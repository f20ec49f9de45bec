// Package token mints and verifies the participant access tokens that gate
// session room joins. Tokens are HS256 JWTs signed with an API key/secret
// pair; the embedded video grant tells the session server which room the
// holder may join and what they may do there.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken   = errors.New("token: invalid token")
	ErrExpiredToken   = errors.New("token: token expired")
	ErrMissingGrant   = errors.New("token: missing video grant")
	ErrMissingKeyPair = errors.New("token: api key and secret are required")
)

// DefaultTTL is the validity window applied when none is set.
const DefaultTTL = 6 * time.Hour

// VideoGrant describes what a participant token permits.
type VideoGrant struct {
	RoomJoin             bool   `json:"room_join,omitempty"`              // May join Room
	Room                 string `json:"room,omitempty"`                   // The room the grant applies to
	CanPublish           bool   `json:"can_publish,omitempty"`            // May publish media tracks
	CanSubscribe         bool   `json:"can_subscribe,omitempty"`          // May subscribe to remote tracks
	CanPublishData       bool   `json:"can_publish_data,omitempty"`       // May send data-plane messages
	CanUpdateOwnMetadata bool   `json:"can_update_own_metadata,omitempty"` // May update own attributes/name
}

// Claims is the decoded payload of a participant token.
type Claims struct {
	Identity   string            // Participant identity (sub)
	Name       string            // Display name
	Metadata   string            // Application metadata
	Attributes map[string]string // Initial participant attributes
	Video      VideoGrant        // The video grant
}

// claimSet is the wire form of Claims.
type claimSet struct {
	jwt.RegisteredClaims
	Name       string            `json:"name,omitempty"`
	Metadata   string            `json:"metadata,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Video      *VideoGrant       `json:"video,omitempty"`
}

// AccessToken builds a signed participant token.
type AccessToken struct {
	apiKey     string
	secret     string
	identity   string
	name       string
	metadata   string
	attributes map[string]string
	grant      *VideoGrant
	ttl        time.Duration
}

// New creates an AccessToken builder for the given API key pair.
func New(apiKey, secret string) *AccessToken {
	return &AccessToken{apiKey: apiKey, secret: secret}
}

// WithIdentity sets the participant identity (the JWT subject).
func (t *AccessToken) WithIdentity(identity string) *AccessToken {
	t.identity = identity
	return t
}

// WithName sets the display name.
func (t *AccessToken) WithName(name string) *AccessToken {
	t.name = name
	return t
}

// WithMetadata attaches application metadata to the participant.
func (t *AccessToken) WithMetadata(metadata string) *AccessToken {
	t.metadata = metadata
	return t
}

// WithAttributes sets the participant's initial attributes.
func (t *AccessToken) WithAttributes(attrs map[string]string) *AccessToken {
	t.attributes = attrs
	return t
}

// WithGrant sets the video grant.
func (t *AccessToken) WithGrant(grant VideoGrant) *AccessToken {
	t.grant = &grant
	return t
}

// WithValidity sets how long the token stays valid. Defaults to DefaultTTL.
func (t *AccessToken) WithValidity(ttl time.Duration) *AccessToken {
	t.ttl = ttl
	return t
}

// ToJWT signs and serializes the token.
func (t *AccessToken) ToJWT() (string, error) {
	if t.apiKey == "" || t.secret == "" {
		return "", ErrMissingKeyPair
	}
	if t.identity == "" {
		return "", fmt.Errorf("token: identity is required")
	}
	if t.grant == nil {
		return "", ErrMissingGrant
	}

	ttl := t.ttl
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	claims := claimSet{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.apiKey,
			Subject:   t.identity,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:       t.name,
		Metadata:   t.metadata,
		Attributes: t.attributes,
		Video:      t.grant,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(t.secret))
}

// Verifier validates participant tokens issued with a matching key pair.
type Verifier struct {
	apiKey string
	secret string
}

// NewVerifier creates a verifier for the given API key pair.
func NewVerifier(apiKey, secret string) *Verifier {
	return &Verifier{apiKey: apiKey, secret: secret}
}

// Verify validates the token's signature, issuer, and expiry, and returns
// the decoded claims.
func (v *Verifier) Verify(raw string) (Claims, error) {
	var out Claims

	var cs claimSet
	tok, err := jwt.ParseWithClaims(raw, &cs, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.secret), nil
	}, jwt.WithIssuer(v.apiKey))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return out, ErrExpiredToken
		}
		return out, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return out, ErrInvalidToken
	}
	if cs.Subject == "" {
		return out, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if cs.Video == nil {
		return out, ErrMissingGrant
	}

	out = Claims{
		Identity:   cs.Subject,
		Name:       cs.Name,
		Metadata:   cs.Metadata,
		Attributes: cs.Attributes,
		Video:      *cs.Video,
	}
	return out, nil
}
