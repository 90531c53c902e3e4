package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// DefaultTokenTTL bounds how long an issued room credential stays
// valid
const DefaultTokenTTL = 1 * time.Hour

// ErrCredentialUnavailable is returned when a room credential cannot
// be minted. The session itself is unaffected; callers should retry.
var ErrCredentialUnavailable = errors.New("credential service unavailable")

// CredentialConfig carries the media provider's signing material
type CredentialConfig struct {
	APIKey    string
	APISecret string
	URL       string // endpoint handed to clients, e.g. wss://media.example.com
	TokenTTL  time.Duration
}

// videoGrant is the room permission block the media provider expects
// inside its access tokens
type videoGrant struct {
	Room         string `json:"room"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

type accessClaims struct {
	Name  string     `json:"name,omitempty"`
	Video videoGrant `json:"video"`
	jwt.RegisteredClaims
}

// Minter signs short-lived room join credentials for the media
// provider
type Minter struct {
	cfg    CredentialConfig
	logger zerolog.Logger
}

// NewMinter creates a credential minter. TokenTTL <= 0 uses the
// default.
func NewMinter(cfg CredentialConfig, logger zerolog.Logger) *Minter {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	return &Minter{
		cfg:    cfg,
		logger: logger.With().Str("component", "credential_minter").Logger(),
	}
}

// Mint issues a join credential for one participant in one room
func (m *Minter) Mint(roomName, identity, displayName string) (*types.SessionCredential, error) {
	if m.cfg.APIKey == "" || m.cfg.APISecret == "" {
		return nil, fmt.Errorf("%w: signing material not configured", ErrCredentialUnavailable)
	}
	if roomName == "" || identity == "" {
		return nil, errors.New("room name and identity are required")
	}

	now := time.Now()
	claims := accessClaims{
		Name: displayName,
		Video: videoGrant{
			Room:         roomName,
			RoomJoin:     true,
			CanPublish:   true,
			CanSubscribe: true,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.APIKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.cfg.APISecret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	return &types.SessionCredential{
		Token:         signed,
		ConnectionURL: m.cfg.URL,
	}, nil
}
