package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nikhilbhutani/dictation/internal/apperror"
	"github.com/nikhilbhutani/dictation/internal/config"
	"github.com/nikhilbhutani/dictation/internal/redact"
)

type operation string

const (
	opSignUp  operation = "signup"
	opSignIn  operation = "signin"
	opRefresh operation = "refresh"
	opSignOut operation = "signout"
)

// SupabaseAccounts talks to a GoTrue-compatible auth API.
type SupabaseAccounts struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	now        func() time.Time
}

// NewSupabaseAccounts refuses plain http for anything but loopback hosts so that
// passwords never leave the machine unencrypted.
func NewSupabaseAccounts(projectURL, anonKey string, timeout time.Duration) (*SupabaseAccounts, error) {
	projectURL = strings.TrimRight(projectURL, "/")
	if projectURL == "" {
		return nil, apperror.Config("identity provider URL is not configured")
	}
	if err := config.RequireSecureURL(projectURL); err != nil {
		return nil, apperror.Config("identity provider URL is not allowed").WithCause(err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SupabaseAccounts{
		baseURL:    projectURL + "/auth/v1",
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}, nil
}

func (s *SupabaseAccounts) SignUp(ctx context.Context, in SignUpInput) (*AuthResult, error) {
	body := map[string]any{
		"email":    in.Email,
		"password": in.Password,
	}
	if in.ProfileName != "" {
		body["data"] = map[string]any{"profile_name": in.ProfileName}
	}
	payload, err := s.do(ctx, opSignUp, "/signup", "", body)
	if err != nil {
		return nil, err
	}
	return Normalize(payload, s.now())
}

func (s *SupabaseAccounts) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	payload, err := s.do(ctx, opSignIn, "/token?grant_type=password", "", map[string]any{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	return Normalize(payload, s.now())
}

func (s *SupabaseAccounts) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	payload, err := s.do(ctx, opRefresh, "/token?grant_type=refresh_token", "", map[string]any{
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, err
	}
	return Normalize(payload, s.now())
}

func (s *SupabaseAccounts) SignOut(ctx context.Context, accessToken string) error {
	_, err := s.do(ctx, opSignOut, "/logout", accessToken, nil)
	return err
}

func (s *SupabaseAccounts) do(ctx context.Context, op operation, path, bearer string, body any) (map[string]any, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, apperror.Internal(fmt.Errorf("marshal %s request: %w", op, err))
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, reader)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("create %s request: %w", op, err))
	}
	req.Header.Set("apikey", s.anonKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperror.Upstream("identity provider response could not be read").WithCause(err)
	}

	if resp.StatusCode >= 400 {
		return nil, upstreamError(op, resp.StatusCode, raw)
	}

	if op == opSignOut || len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apperror.UpstreamContract("identity provider returned malformed JSON").WithCause(err)
	}
	return payload, nil
}

func transportError(ctx context.Context, op operation, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return apperror.Canceled().WithCause(err)
	}
	var ue interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ue) && ue.Timeout()) {
		return apperror.Timeout("identity provider timed out").WithCause(fmt.Errorf("%s: %w", op, err))
	}
	return apperror.Unavailable("identity provider is unavailable").WithCause(fmt.Errorf("%s: %w", op, err))
}

// upstreamError maps a provider failure onto a client-safe error. The upstream
// reason is kept in Cause for logs only.
func upstreamError(op operation, status int, body []byte) error {
	reason := errors.New(upstreamReason(body))
	cause := fmt.Errorf("%s returned %d: %w", op, status, reason)

	switch {
	case status == http.StatusTooManyRequests:
		return apperror.RateLimited("too many authentication attempts, try again later").WithCause(cause)
	case status >= 500:
		return apperror.Upstream("identity provider failed").WithDetail("upstream_status", status).WithCause(cause)
	}

	switch op {
	case opSignIn:
		return apperror.Unauthorized("invalid email or password").WithCause(cause)
	case opRefresh:
		return apperror.Unauthorized("invalid or expired refresh token").WithCause(cause)
	case opSignOut:
		return apperror.Unauthorized("invalid or expired access token").WithCause(cause)
	default:
		return apperror.New(status, apperror.CodeBadRequest, "account request was rejected").
			WithDetail("upstream_status", status).
			WithCause(cause)
	}
}

func upstreamReason(body []byte) string {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err == nil {
		for _, key := range []string{"msg", "message", "error_description", "error"} {
			if s := stringField(m, key); s != "" {
				return s
			}
		}
	}
	if s := redact.JSON(bytes.TrimSpace(body)); s != "" {
		if len(s) > 200 {
			s = s[:200]
		}
		return s
	}
	return "no reason given"
}
