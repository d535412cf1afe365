package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

const tokenIssuer = "mushcore"

var (
	// ErrInvalidCredentials is returned for a bad name or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrStalePlayer means a token names a player that no longer exists.
	ErrStalePlayer = errors.New("player no longer exists")
)

// Claims identify the player a status API token was issued to.
type Claims struct {
	PlayerRef  gamedb.DBRef `json:"player_ref"`
	PlayerName string       `json:"player_name"`
	jwt.RegisteredClaims
}

// AuthService issues and checks HS256 tokens for the status API.
type AuthService struct {
	game   *Game
	key    []byte
	expiry time.Duration
	parser *jwt.Parser
}

// NewAuthService creates an auth service. An empty secret gets a random
// per-process key, so tokens do not survive a restart.
func NewAuthService(game *Game, secret string, expirySeconds int) *AuthService {
	key := []byte(secret)
	if secret == "" {
		key = make([]byte, 32)
		rand.Read(key)
	}
	a := &AuthService{game: game, key: key, expiry: 24 * time.Hour}
	if expirySeconds > 0 {
		a.expiry = time.Duration(expirySeconds) * time.Second
	}
	a.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(game.now),
	)
	return a
}

// Login checks name and password and returns a signed token.
func (a *AuthService) Login(name, password string) (string, error) {
	player, ok := a.game.Authenticate(name, password)
	if !ok {
		return "", ErrInvalidCredentials
	}
	return a.issue(player)
}

// issue signs a token for player under its current name.
func (a *AuthService) issue(player gamedb.DBRef) (string, error) {
	a.game.mu.Lock()
	valid := a.game.DB.Valid(player) && a.game.DB.TypeOf(player) == gamedb.TypePlayer
	name := a.game.DB.Name(player)
	a.game.mu.Unlock()
	if !valid {
		return "", ErrStalePlayer
	}

	now := a.game.now()
	claims := Claims{
		PlayerRef:  player,
		PlayerName: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("#%d", player),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
}

// ValidateToken parses tokenStr and returns its claims.
func (a *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// RefreshToken exchanges a valid token for a new one with a fresh expiry.
// The player must still exist.
func (a *AuthService) RefreshToken(tokenStr string) (string, error) {
	claims, err := a.ValidateToken(tokenStr)
	if err != nil {
		return "", err
	}
	return a.issue(claims.PlayerRef)
}

// GenerateJWTSecret returns a random hex secret for jwt_secret.
func GenerateJWTSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
