// Package auth verifies the access tokens presented by judge daemons.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"judgehub/internal/common/cache"
	appErr "judgehub/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Privilege bits carried in the "priv" claim.
const (
	PrivUser  int64 = 1 << 0
	PrivJudge int64 = 1 << 8
)

const accessTokenType = "access"

// Config configures token verification.
type Config struct {
	Secret     string
	Issuer     string        `json:",optional"`
	RevokedKey string        `json:",default=judge:token:revoked"`
	Timeout    time.Duration `json:",default=500ms"`
}

// Identity is the verified holder of a token.
type Identity struct {
	UserID int64
	Priv   int64
}

// Has reports whether every bit of priv is granted.
func (i Identity) Has(priv int64) bool {
	return i.Priv&priv == priv
}

type claims struct {
	Priv      int64  `json:"priv"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Authenticator checks HS256 tokens and an optional revocation set.
type Authenticator struct {
	secret     []byte
	issuer     string
	revoked    cache.SetOps
	revokedKey string
	timeout    time.Duration
}

// NewAuthenticator creates an authenticator. revoked may be nil.
func NewAuthenticator(cfg Config, revoked cache.SetOps) *Authenticator {
	if cfg.RevokedKey == "" {
		cfg.RevokedKey = "judge:token:revoked"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	return &Authenticator{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		revoked:    revoked,
		revokedKey: cfg.RevokedKey,
		timeout:    cfg.Timeout,
	}
}

// Authenticate verifies raw and returns its holder.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, appErr.UnauthorizedError("missing token")
	}
	c, err := a.parse(raw)
	if err != nil {
		return Identity{}, err
	}
	uid, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return Identity{}, appErr.UnauthorizedError("invalid token subject")
	}
	if a.revoked != nil {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		revoked, err := a.revoked.SIsMember(ctx, a.revokedKey, hashToken(raw))
		if err != nil {
			return Identity{}, appErr.Wrap(err, appErr.ServiceUnavailable)
		}
		if revoked {
			return Identity{}, appErr.UnauthorizedError("token revoked")
		}
	}
	return Identity{UserID: uid, Priv: c.Priv}, nil
}

// Authorize authenticates raw and requires priv.
func (a *Authenticator) Authorize(ctx context.Context, raw string, priv int64) (Identity, error) {
	id, err := a.Authenticate(ctx, raw)
	if err != nil {
		return Identity{}, err
	}
	if !id.Has(priv) {
		return Identity{}, appErr.New(appErr.InsufficientPermission)
	}
	return id, nil
}

// Revoke adds raw to the revocation set.
func (a *Authenticator) Revoke(ctx context.Context, raw string) error {
	if a.revoked == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("revocation store unavailable")
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.revoked.SAdd(ctx, a.revokedKey, hashToken(raw)); err != nil {
		return appErr.Wrap(err, appErr.CacheError)
	}
	return nil
}

func (a *Authenticator) parse(raw string) (*claims, error) {
	if len(a.secret) == 0 {
		return nil, appErr.UnauthorizedError("token verification disabled")
	}
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErr.UnauthorizedError("token expired")
		}
		return nil, appErr.UnauthorizedError("invalid token")
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, appErr.UnauthorizedError("invalid token")
	}
	if a.issuer != "" && c.Issuer != a.issuer {
		return nil, appErr.UnauthorizedError("invalid token issuer")
	}
	if c.TokenType != accessTokenType || c.Subject == "" {
		return nil, appErr.UnauthorizedError("invalid token")
	}
	return c, nil
}

// Issue signs an access token for uid. A zero ttl never expires.
func Issue(secret, issuer string, uid, priv int64, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Priv:      priv,
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  strconv.FormatInt(uid, 10),
			Issuer:   issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

// TokenFromRequest reads a bearer token, falling back to the token query
// parameter since browsers cannot set headers on websocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
