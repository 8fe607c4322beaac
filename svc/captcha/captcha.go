// Package captcha verifies challenge-response tokens with an external
// service. Verification fails closed: an unreachable or misbehaving service
// counts as a failed check, never as a silent pass.
package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/YanivGeorgePerez/dapim/svc/util"
	"github.com/pkg/errors"
)

type Verifier interface {
	Verify(ctx context.Context, token string) bool
}

type Google struct {
	secret    string
	verifyURL string
	client    *http.Client
}

func NewGoogle(secret, verifyURL string, timeout time.Duration) (*Google, error) {
	if secret == "" {
		return nil, errors.New("captcha secret must not be empty")
	}
	if verifyURL == "" {
		return nil, errors.New("captcha verify URL must not be empty")
	}
	return &Google{
		secret:    secret,
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

type verifyResponse struct {
	Success bool `json:"success"`
}

func (g *Google) Verify(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	form := url.Values{}
	form.Set("secret", g.secret)
	form.Set("response", token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		util.Error().Err(err).Msg("captcha request build failed")
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.client.Do(req)
	if err != nil {
		util.Warn().Err(err).Msg("captcha service unreachable")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		util.Warn().Int("status", resp.StatusCode).Msg("captcha service error")
		return false
	}
	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		util.Warn().Err(err).Msg("captcha response decode failed")
		return false
	}
	return vr.Success
}

// Disabled passes every check. Only wired in development when no secret is
// configured; production config validation refuses to run without one.
type Disabled struct{}

func (Disabled) Verify(ctx context.Context, token string) bool { return true }
