package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/auth"
)

// CookieOptions configures the session cookie.
type CookieOptions struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

// AuthHandler serves login and logout.
type AuthHandler struct {
	svc    *auth.Service
	cookie CookieOptions
}

func NewAuthHandler(svc *auth.Service, cookie CookieOptions) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "councilhub_session"
	}
	return &AuthHandler{svc: svc, cookie: cookie}
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Login handles POST /login.
//
//	@Summary		Log in with username and password
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		LoginRequest	true	"Credentials"
//	@Success		200		{object}	LoginResponse
//	@Failure		401		{object}	LoginResponse
//	@Router			/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req LoginRequest
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/json" || ct == "" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
	} else {
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	}

	token, _, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, apperr.ErrUnauthorized) {
		writeJSON(w, http.StatusUnauthorized, LoginResponse{Success: false, Message: "Invalid credentials"})
		return
	}
	if err != nil {
		writeError(w, r, "login", err)
		return
	}

	maxAge := 0
	if h.cookie.TTL > 0 {
		maxAge = int(h.cookie.TTL.Seconds())
	}
	h.setCookie(w, token, maxAge)
	writeJSON(w, http.StatusOK, LoginResponse{Success: true})
}

// Logout handles GET and POST /logout.
//
//	@Summary		Log out and revoke the session
//	@Tags			auth
//	@Produce		json
//	@Success		200	{object}	LoginResponse
//	@Router			/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.cookie.Name); err == nil {
		if err := h.svc.Logout(r.Context(), c.Value); err != nil {
			writeError(w, r, "logout", err)
			return
		}
	}
	h.setCookie(w, "", -1)
	writeJSON(w, http.StatusOK, LoginResponse{Success: true})
}
