package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gogrow/backend/internal/db/memory"
	identityservice "gogrow/backend/internal/identity/service"
	"gogrow/backend/internal/server/middleware"
	sessionservice "gogrow/backend/internal/session/service"
)

const testPhone = "+14155552671"

func newTestServer(t *testing.T) (*gin.Engine, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memory.New()
	svc := identityservice.NewAuthService(store.Users(), store.Sessions(), store.Challenges(), nil, nil, nil, identityservice.Config{
		OTPExpiry:             5 * time.Minute,
		OTPMaxAttempts:        5,
		SessionInactivityDays: 30,
		OTPReturnToClient:     true,
	})
	gate := sessionservice.NewGate(store.Sessions(), 30, nil, nil)

	r := gin.New()
	r.Use(middleware.RequestContext(), middleware.SessionAuth(gate, middleware.DefaultPublicPaths(), nil))
	NewAuthHandler(svc, nil).Register(r)
	return r, store
}

func do(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func login(t *testing.T, r http.Handler, phone string) LoginResponse {
	t.Helper()
	w := do(t, r, http.MethodPost, "/auth/request-otp", "", RequestOTPRequest{PhoneNumber: phone})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	issued := decode[RequestOTPResponse](t, w)
	require.Len(t, issued.OTP, 6)

	w = do(t, r, http.MethodPost, "/auth/verify-otp", "", VerifyOTPRequest{PhoneNumber: phone, OTP: issued.OTP})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[LoginResponse](t, w)
}

func TestLoginScenario(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(t, r, http.MethodPost, "/auth/request-otp", "", RequestOTPRequest{PhoneNumber: testPhone})
	require.Equal(t, http.StatusOK, w.Code)
	issued := decode[RequestOTPResponse](t, w)
	assert.Equal(t, "OTP generated successfully.", issued.Message)
	assert.True(t, issued.ExpiresAt.After(time.Now()))

	w = do(t, r, http.MethodPost, "/auth/verify-otp", "", VerifyOTPRequest{PhoneNumber: testPhone, OTP: issued.OTP})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[LoginResponse](t, w)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, "Bearer", res.TokenType)
	assert.Equal(t, 30, res.SessionInactivityDays)
	assert.Equal(t, testPhone, res.User.Phone)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	var user map[string]any
	require.NoError(t, json.Unmarshal(raw["user"], &user))
	assert.Contains(t, user, "name")
	assert.Nil(t, user["name"])
	assert.Nil(t, user["email"])

	w = do(t, r, http.MethodGet, "/me", res.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, res.User.ID, decode[UserResponse](t, w).ID)

	w = do(t, r, http.MethodPost, "/auth/logout", res.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Logged out successfully.", decode[MessageResponse](t, w).Message)

	w = do(t, r, http.MethodGet, "/me", res.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, decode[ErrorResponse](t, w).Error)

	// A second verify of the consumed OTP fails.
	w = do(t, r, http.MethodPost, "/auth/verify-otp", "", VerifyOTPRequest{PhoneNumber: testPhone, OTP: issued.OTP})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "OTP not found. Please request a new OTP.", decode[ErrorResponse](t, w).Error)
}

func TestRequestOTP_Validation(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(t, r, http.MethodPost, "/auth/request-otp", "", RequestOTPRequest{PhoneNumber: "0123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Phone number must be in international format, e.g. +14155552671.", decode[ErrorResponse](t, w).Error)

	w = do(t, r, http.MethodPost, "/auth/request-otp", "", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyOTP_Errors(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(t, r, http.MethodPost, "/auth/verify-otp", "", VerifyOTPRequest{PhoneNumber: testPhone, OTP: "12ab56"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "OTP must be 6 digits.", decode[ErrorResponse](t, w).Error)

	w = do(t, r, http.MethodPost, "/auth/verify-otp", "", VerifyOTPRequest{PhoneNumber: testPhone, OTP: "123456"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "OTP not found. Please request a new OTP.", decode[ErrorResponse](t, w).Error)

	w = do(t, r, http.MethodPost, "/auth/request-otp", "", RequestOTPRequest{PhoneNumber: testPhone})
	require.Equal(t, http.StatusOK, w.Code)
	issued := decode[RequestOTPResponse](t, w)
	wrong := "100000"
	if issued.OTP == wrong {
		wrong = "100001"
	}
	for i := 0; i < 5; i++ {
		w = do(t, r, http.MethodPost, "/auth/verify-otp", "", VerifyOTPRequest{PhoneNumber: testPhone, OTP: wrong})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Invalid OTP.", decode[ErrorResponse](t, w).Error)
	}
	w = do(t, r, http.MethodPost, "/auth/verify-otp", "", VerifyOTPRequest{PhoneNumber: testPhone, OTP: issued.OTP})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Maximum OTP attempts reached. Request a new OTP.", decode[ErrorResponse](t, w).Error)
}

func TestLogout(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(t, r, http.MethodPost, "/auth/logout", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing bearer token.", decode[ErrorResponse](t, w).Error)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Basic abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/auth/logout", "unknown-token", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	res := login(t, r, testPhone)
	for i := 0; i < 2; i++ {
		w = do(t, r, http.MethodPost, "/auth/logout", res.AccessToken, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestMe_RequiresSession(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(t, r, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodGet, "/me", "not-a-session", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateMe(t *testing.T) {
	r, _ := newTestServer(t)
	res := login(t, r, testPhone)
	other := login(t, r, "+447911123456")

	w := do(t, r, http.MethodPatch, "/me", res.AccessToken, map[string]string{"name": "  Ada  ", "email": " Ada@Example.COM "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	u := decode[UserResponse](t, w)
	require.NotNil(t, u.Name)
	require.NotNil(t, u.Email)
	assert.Equal(t, "Ada", *u.Name)
	assert.Equal(t, "ada@example.com", *u.Email)

	w = do(t, r, http.MethodPatch, "/me", res.AccessToken, map[string]string{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid email format.", decode[ErrorResponse](t, w).Error)

	w = do(t, r, http.MethodPatch, "/me", res.AccessToken, map[string]string{"phone": other.User.Phone})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Phone number is already in use.", decode[ErrorResponse](t, w).Error)

	w = do(t, r, http.MethodPatch, "/me", res.AccessToken, map[string]string{"name": ""})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[UserResponse](t, w).Name)
}

func TestDeleteMe_RevokesAndBlocksLogin(t *testing.T) {
	r, _ := newTestServer(t)
	first := login(t, r, testPhone)
	second := login(t, r, testPhone)

	w := do(t, r, http.MethodPost, "/me/delete", first.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "User soft deleted successfully.", decode[MessageResponse](t, w).Message)

	for _, tok := range []string{first.AccessToken, second.AccessToken} {
		w = do(t, r, http.MethodGet, "/me", tok, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w = do(t, r, http.MethodPost, "/auth/request-otp", "", RequestOTPRequest{PhoneNumber: testPhone})
	require.Equal(t, http.StatusOK, w.Code)
	issued := decode[RequestOTPResponse](t, w)
	w = do(t, r, http.MethodPost, "/auth/verify-otp", "", VerifyOTPRequest{PhoneNumber: testPhone, OTP: issued.OTP})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "User account is deleted.", decode[ErrorResponse](t, w).Error)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{identityservice.ErrInvalidPhone, http.StatusBadRequest},
		{identityservice.ErrInvalidRequest, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", identityservice.ErrOTPExpired), http.StatusUnauthorized},
		{identityservice.ErrUserNotFound, http.StatusUnauthorized},
		{identityservice.ErrAccountDeleted, http.StatusForbidden},
		{identityservice.ErrPhoneInUse, http.StatusConflict},
		{&sessionservice.Rejection{Reason: sessionservice.ErrSessionExpired, Message: "expired"}, http.StatusUnauthorized},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, msg := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.NotEmpty(t, msg)
	}
	_, msg := statusFor(errors.New("pq: relation users does not exist"))
	assert.Equal(t, "internal server error", msg)
}

type failingService struct{ AuthService }

func (failingService) RequestOTP(context.Context, string) (*identityservice.OTPIssued, error) {
	return nil, errors.New("db down")
}

func TestRequestOTP_StoreFailureIsGeneric500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewAuthHandler(failingService{}, nil).Register(r)

	w := do(t, r, http.MethodPost, "/auth/request-otp", "", RequestOTPRequest{PhoneNumber: testPhone})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, strings.Contains(w.Body.String(), "db down"))
}
