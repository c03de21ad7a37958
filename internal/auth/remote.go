package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// RemoteVerifier asks Supabase Auth who owns the token.
type RemoteVerifier struct {
	client *resty.Client
}

func NewRemoteVerifier(baseURL, apiKey string, timeout time.Duration) *RemoteVerifier {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("apikey", apiKey)
	return &RemoteVerifier{client: client}
}

type authUser struct {
	ID string `json:"id"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (string, error) {
	var user authUser
	resp, err := v.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&user).
		Get("/auth/v1/user")
	if err != nil {
		return "", fmt.Errorf("auth user lookup: %w", err)
	}
	if resp.IsError() || user.ID == "" {
		return "", ErrUnauthorized
	}
	return user.ID, nil
}

// NewVerifier picks the local JWT check when a secret is configured.
func NewVerifier(mode, jwtSecret, baseURL, apiKey string, timeout time.Duration) Verifier {
	if mode == "jwt" && jwtSecret != "" {
		return NewJWTVerifier(jwtSecret)
	}
	return NewRemoteVerifier(baseURL, apiKey, timeout)
}
