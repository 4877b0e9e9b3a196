package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/nikhilbhutani/dictation/internal/api/respond"
	"github.com/nikhilbhutani/dictation/internal/apperror"
	"github.com/nikhilbhutani/dictation/internal/identity"
)

const maxAuthBody = 64 << 10

type AuthHandler struct {
	accounts identity.Accounts
}

// NewAuthHandler accepts nil accounts; every route then answers with a
// configuration error.
func NewAuthHandler(accounts identity.Accounts) *AuthHandler {
	return &AuthHandler{accounts: accounts}
}

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	ProfileName string `json:"profile_name"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type signOutRequest struct {
	AccessToken string `json:"access_token"`
}

type authResponse struct {
	Account                   identity.Account  `json:"account"`
	Session                   *identity.Session `json:"session"`
	RequiresEmailConfirmation bool              `json:"requires_email_confirmation"`
}

func newAuthResponse(res *identity.AuthResult) authResponse {
	return authResponse{
		Account:                   res.Account,
		Session:                   res.Session,
		RequiresEmailConfirmation: res.RequiresEmailConfirmation(),
	}
}

// SignUp answers 201 when a session was issued and 200 when the account
// still awaits confirmation.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	var req signUpRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := requireCredentials(req.Email, req.Password); err != nil {
		respond.Error(w, r, err)
		return
	}

	res, err := h.accounts.SignUp(r.Context(), identity.SignUpInput{
		Email:       strings.TrimSpace(req.Email),
		Password:    req.Password,
		ProfileName: strings.TrimSpace(req.ProfileName),
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.RequiresEmailConfirmation() {
		status = http.StatusOK
	}
	respond.JSON(w, status, newAuthResponse(res))
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := requireCredentials(req.Email, req.Password); err != nil {
		respond.Error(w, r, err)
		return
	}

	res, err := h.accounts.SignIn(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, newAuthResponse(res))
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		respond.Error(w, r, apperror.BadRequest("refresh_token is required"))
		return
	}

	res, err := h.accounts.Refresh(r.Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, newAuthResponse(res))
}

// SignOut takes the access token from the body or, failing that, the bearer header.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	var req signOutRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	token := strings.TrimSpace(req.AccessToken)
	if token == "" {
		if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			token = strings.TrimSpace(v)
		}
	}
	if token == "" {
		respond.Error(w, r, apperror.BadRequest("access_token is required"))
		return
	}

	if err := h.accounts.SignOut(r.Context(), token); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]bool{"signed_out": true})
}

func (h *AuthHandler) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.accounts == nil {
		respond.Error(w, r, apperror.Config("identity provider is not configured"))
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dst any) error {
	return decode(r, dst, false)
}

// decodeOptionalJSON accepts an empty body and leaves dst untouched.
func decodeOptionalJSON(r *http.Request, dst any) error {
	return decode(r, dst, true)
}

func decode(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAuthBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if optional {
				return nil
			}
			return apperror.BadRequest("request body is required")
		}
		return apperror.BadRequest("request body must be valid JSON").WithCause(err)
	}
	return nil
}

func requireCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return apperror.BadRequest("email and password are required")
	}
	return nil
}
