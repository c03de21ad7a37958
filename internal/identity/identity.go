// Package identity turns a request into either an authenticated user or a
// guest holding an opaque token.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"gachalab/internal/auth"
	"gachalab/internal/models"
)

const (
	GuestHeader       = "X-Guest-Token"
	LegacyGuestCookie = "gl_guest"
	guestTokenLen     = 32
	tokenAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

type Resolver struct {
	Verifier   auth.Verifier
	CookieName string
	MaxAge     time.Duration
	Secure     bool
}

// Resolved is the caller identity plus the raw guest token, if any.
type Resolved struct {
	Identity   models.Identity
	GuestToken string
	// Minted is set when the guest token was generated for this request.
	Minted bool
}

// Resolve verifies a bearer token when present; a bad bearer never falls
// back to guest. The guest token comes from the header or cookie and is
// minted only when mint is true.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request, mint bool) (*Resolved, error) {
	token := r.GuestToken(req)
	minted := false
	if token == "" && mint {
		var err error
		token, err = NewGuestToken()
		if err != nil {
			return nil, err
		}
		minted = true
	}
	res := &Resolved{GuestToken: token, Minted: minted}

	if bearer := BearerToken(req); bearer != "" {
		if r.Verifier == nil {
			return nil, auth.ErrUnauthorized
		}
		uid, err := r.Verifier.Verify(ctx, bearer)
		if err != nil || uid == "" {
			return nil, auth.ErrUnauthorized
		}
		res.Identity.UserID = uid
		return res, nil
	}
	if token != "" {
		res.Identity.GuestTokenHash = HashToken(token)
	}
	return res, nil
}

// GuestToken reads the header first, then the current and legacy cookies.
func (r *Resolver) GuestToken(req *http.Request) string {
	if v := strings.TrimSpace(req.Header.Get(GuestHeader)); v != "" {
		return v
	}
	for _, name := range []string{r.cookieName(), LegacyGuestCookie} {
		if c, err := req.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

func (r *Resolver) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     r.cookieName(),
		Value:    token,
		Path:     "/",
		MaxAge:   int(r.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   r.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (r *Resolver) cookieName() string {
	if r.CookieName == "" {
		return "guest_token"
	}
	return r.CookieName
}

func BearerToken(req *http.Request) string {
	val := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(val) <= len(prefix) || !strings.EqualFold(val[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(val[len(prefix):])
}

// HashToken is the only form in which guest tokens are persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func NewGuestToken() (string, error) {
	out := make([]byte, 0, guestTokenLen)
	buf := make([]byte, guestTokenLen*2)
	// bytes at or above 248 are skipped to keep the 62-symbol draw uniform
	limit := byte(256 - 256%len(tokenAlphabet))
	for len(out) < guestTokenLen {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == guestTokenLen {
				break
			}
		}
	}
	return string(out), nil
}
