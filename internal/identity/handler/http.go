// Package handler exposes the identity service over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	identityservice "gogrow/backend/internal/identity/service"
	"gogrow/backend/internal/principal"
	"gogrow/backend/internal/server/middleware"
	sessionservice "gogrow/backend/internal/session/service"
	userdomain "gogrow/backend/internal/user/domain"
)

const (
	msgInternal        = "internal server error"
	msgInvalidBody     = "Invalid request body."
	msgMissingBearer   = "Missing bearer token."
	msgLoggedOut       = "Logged out successfully."
	msgUserSoftDeleted = "User soft deleted successfully."
)

// AuthService is the subset of the identity service used by the HTTP layer.
type AuthService interface {
	RequestOTP(ctx context.Context, phone string) (*identityservice.OTPIssued, error)
	VerifyOTP(ctx context.Context, phone, otp string) (*identityservice.LoginResult, error)
	Logout(ctx context.Context, rawToken string) error
	GetUser(ctx context.Context, userID string) (*userdomain.User, error)
	UpdateUser(ctx context.Context, userID string, in identityservice.UpdateUserInput) (*userdomain.User, error)
	SoftDeleteUser(ctx context.Context, userID string) error
}

// AuthHandler serves /auth and /me.
type AuthHandler struct {
	svc AuthService
	log *zap.Logger
}

// NewAuthHandler returns an AuthHandler. logger may be nil.
func NewAuthHandler(svc AuthService, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{svc: svc, log: logger}
}

// Register mounts the handler routes on r.
func (h *AuthHandler) Register(r gin.IRoutes) {
	r.POST("/auth/request-otp", h.RequestOTP)
	r.POST("/auth/verify-otp", h.VerifyOTP)
	r.POST("/auth/logout", h.Logout)
	r.GET("/me", h.Me)
	r.PATCH("/me", h.UpdateMe)
	r.POST("/me/delete", h.DeleteMe)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse carries a human readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// RequestOTPRequest is the body of POST /auth/request-otp.
type RequestOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// RequestOTPResponse is returned by POST /auth/request-otp. OTP is only present in development.
type RequestOTPResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
	OTP       string    `json:"otp,omitempty"`
}

// VerifyOTPRequest is the body of POST /auth/verify-otp.
type VerifyOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	OTP         string `json:"otp"`
}

// UserResponse is the public view of a user. Unset name and email are null.
type UserResponse struct {
	ID         string     `json:"id"`
	Name       *string    `json:"name"`
	Email      *string    `json:"email"`
	Phone      string     `json:"phone"`
	CreatedAt  time.Time  `json:"createdAt"`
	ModifiedAt time.Time  `json:"modifiedAt"`
	DeletedAt  *time.Time `json:"deletedAt"`
}

// LoginResponse is returned by POST /auth/verify-otp.
type LoginResponse struct {
	AccessToken           string       `json:"accessToken"`
	TokenType             string       `json:"tokenType"`
	SessionInactivityDays int          `json:"sessionInactivityDays"`
	User                  UserResponse `json:"user"`
}

// UpdateMeRequest is the body of PATCH /me. Omitted fields are left untouched.
type UpdateMeRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Phone *string `json:"phone"`
}

// RequestOTP godoc
// @Summary Request a login OTP
// @Tags auth
// @Accept json
// @Produce json
// @Param data body RequestOTPRequest true "Phone number in international format"
// @Success 200 {object} RequestOTPResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/request-otp [post]
func (h *AuthHandler) RequestOTP(c *gin.Context) {
	var req RequestOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, identityservice.ErrInvalidRequest)
		return
	}
	issued, err := h.svc.RequestOTP(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RequestOTPResponse{
		Message:   issued.Message,
		ExpiresAt: issued.ExpiresAt,
		OTP:       issued.OTP,
	})
}

// VerifyOTP godoc
// @Summary Verify an OTP and open a session
// @Tags auth
// @Accept json
// @Produce json
// @Param data body VerifyOTPRequest true "Phone number and OTP"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/verify-otp [post]
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, identityservice.ErrInvalidRequest)
		return
	}
	res, err := h.svc.VerifyOTP(c.Request.Context(), req.PhoneNumber, req.OTP)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, LoginResponse{
		AccessToken:           res.AccessToken,
		TokenType:             res.TokenType,
		SessionInactivityDays: res.SessionInactivityDays,
		User:                  toUserResponse(res.User),
	})
}

// Logout godoc
// @Summary Revoke the presented session
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	token, err := sessionservice.ParseBearer(c.GetHeader("Authorization"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgMissingBearer})
		return
	}
	if err := h.svc.Logout(c.Request.Context(), token); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: msgLoggedOut})
}

// Me godoc
// @Summary Current user profile
// @Tags me
// @Produce json
// @Security BearerAuth
// @Success 200 {object} UserResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	user, err := h.svc.GetUser(c.Request.Context(), p.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

// UpdateMe godoc
// @Summary Update the current user profile
// @Tags me
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param data body UpdateMeRequest true "Fields to change"
// @Success 200 {object} UserResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /me [patch]
func (h *AuthHandler) UpdateMe(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	var req UpdateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, identityservice.ErrInvalidRequest)
		return
	}
	user, err := h.svc.UpdateUser(c.Request.Context(), p.UserID, identityservice.UpdateUserInput{
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

// DeleteMe godoc
// @Summary Soft delete the current user and revoke all sessions
// @Tags me
// @Produce json
// @Security BearerAuth
// @Success 200 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /me/delete [post]
func (h *AuthHandler) DeleteMe(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	if err := h.svc.SoftDeleteUser(c.Request.Context(), p.UserID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: msgUserSoftDeleted})
}

// principal reads the caller set by the session middleware and writes 401 when it is absent.
func (h *AuthHandler) principal(c *gin.Context) (principal.Principal, bool) {
	p, ok := principal.FromContext(c.Request.Context())
	if !ok || p.UserID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized."})
		return principal.Principal{}, false
	}
	return p, true
}

func (h *AuthHandler) writeError(c *gin.Context, err error) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.RequestIDFromContext(c.Request.Context())),
			zap.Error(err),
		)
	}
	c.JSON(status, ErrorResponse{Error: message})
}

// statusFor maps service errors to an HTTP status and client message.
func statusFor(err error) (int, string) {
	var rej *sessionservice.Rejection
	switch {
	case errors.As(err, &rej):
		return http.StatusUnauthorized, rej.Message
	case errors.Is(err, identityservice.ErrInvalidPhone):
		return http.StatusBadRequest, "Phone number must be in international format, e.g. +14155552671."
	case errors.Is(err, identityservice.ErrInvalidOTPFormat):
		return http.StatusBadRequest, "OTP must be 6 digits."
	case errors.Is(err, identityservice.ErrInvalidEmail):
		return http.StatusBadRequest, "Invalid email format."
	case errors.Is(err, identityservice.ErrInvalidRequest):
		return http.StatusBadRequest, msgInvalidBody
	case errors.Is(err, identityservice.ErrOTPNotFound):
		return http.StatusUnauthorized, "OTP not found. Please request a new OTP."
	case errors.Is(err, identityservice.ErrOTPExpired):
		return http.StatusUnauthorized, "OTP expired. Please request a new OTP."
	case errors.Is(err, identityservice.ErrOTPAttemptsExceeded):
		return http.StatusUnauthorized, "Maximum OTP attempts reached. Request a new OTP."
	case errors.Is(err, identityservice.ErrInvalidOTP):
		return http.StatusUnauthorized, "Invalid OTP."
	case errors.Is(err, identityservice.ErrUserNotFound):
		return http.StatusUnauthorized, "User not found."
	case errors.Is(err, identityservice.ErrAccountDeleted):
		return http.StatusForbidden, "User account is deleted."
	case errors.Is(err, identityservice.ErrPhoneInUse):
		return http.StatusConflict, "Phone number is already in use."
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func toUserResponse(u *userdomain.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		Name:       nullable(u.Name),
		Email:      nullable(u.Email),
		Phone:      u.Phone,
		CreatedAt:  u.CreatedAt,
		ModifiedAt: u.ModifiedAt,
		DeletedAt:  u.DeletedAt,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
