// Auth HTTP handlers.
//
// This file exposes the public account endpoints:
//   - POST /auth/signup   (register and receive a token)
//   - POST /auth/login    (exchange credentials for a token)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/bookworm-backend/internal/services"
)

//
// DTOs
//

// SignUpRequest is the JSON payload for creating an account.
type SignUpRequest struct {
	Email string `json:"email" binding:"required,email" example:"reader@example.com"`
	// Password must be at least 8 characters.
	Password string `json:"password" binding:"required,min=8" example:"correct-horse"`
}

// LoginRequest is the JSON payload for signing in.
type LoginRequest struct {
	Email    string `json:"email" binding:"required" example:"reader@example.com"`
	Password string `json:"password" binding:"required" example:"correct-horse"`
}

// TokenResponse carries a signed access token.
type TokenResponse struct {
	AccessToken string `json:"access_token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
}

// SignUp godoc
// @ID          signUp
// @Summary     Create an account
// @Description Registers a new user and returns an access token valid for one hour.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.SignUpRequest  true  "Credentials"
// @Success     201   {object}  handlers.TokenResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid email or short password"
// @Failure     409   {object}  handlers.ErrorResponse  "Email already registered"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/signup [post]
func (h *Handlers) SignUp(c *gin.Context) {
	var req SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "a valid email and a password of at least 8 characters are required")
		return
	}

	token, err := h.authSvc.SignUp(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, services.ErrEmailTaken):
		fail(c, http.StatusConflict, ErrCodeConflict, "email already registered")
		return
	case err != nil:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not create account")
		return
	}

	ok(c, http.StatusCreated, TokenResponse{AccessToken: token})
}

// Login godoc
// @ID          login
// @Summary     Sign in
// @Description Exchanges an email and password for an access token valid for one hour.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.LoginRequest  true  "Credentials"
// @Success     200   {object}  handlers.TokenResponse
// @Failure     401   {object}  handlers.ErrorResponse  "Invalid credentials"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, err := h.authSvc.Authenticate(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid credentials")
		return
	case err != nil:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not sign in")
		return
	}

	ok(c, http.StatusOK, TokenResponse{AccessToken: token})
}
