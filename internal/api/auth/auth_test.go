package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Jun20220703/bit216as/internal/api/middleware"
	"github.com/Jun20220703/bit216as/internal/model"
	"github.com/Jun20220703/bit216as/internal/pkg/cooldown"
	"github.com/Jun20220703/bit216as/internal/session"
	"github.com/Jun20220703/bit216as/internal/store"
	"github.com/Jun20220703/bit216as/internal/store/memstore"
	"github.com/Jun20220703/bit216as/internal/verification"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type fixedGenerator struct {
	code  string
	token string
}

func (g fixedGenerator) Code() (string, error)  { return g.code, nil }
func (g fixedGenerator) Token() (string, error) { return g.token, nil }

// flakyUsers 可以让 Save 失败的 UserStore。
type flakyUsers struct {
	store.UserStore
	saveErr error
}

func (s *flakyUsers) Save(ctx context.Context, u *model.User) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.UserStore.Save(ctx, u)
}

type testEnv struct {
	router *gin.Engine
	users  *memstore.Store
	store  *flakyUsers
	now    time.Time
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{users: memstore.New(), now: time.Now().UTC()}
	env.store = &flakyUsers{UserStore: env.users}
	mgr := verification.NewManager(env.store, nil, verification.DefaultConfig(), nil)
	mgr.SetGenerator(fixedGenerator{code: "482913", token: "tok-123"})
	mgr.SetClock(func() time.Time { return env.now })

	sessions := session.NewIssuer("test-secret", time.Hour)
	opts.EventsInterval = 10 * time.Millisecond
	h := NewHandler(env.store, mgr, sessions, cooldown.New(nil, time.Minute), opts, nil)

	r := gin.New()
	users := r.Group("/api/users")
	users.POST("/register", h.Register)
	users.POST("/login", h.Login)
	users.POST("/verify-2fa-login", h.VerifyTwoFactorLogin)
	users.POST("/forgot-password", h.ForgotPassword)
	users.POST("/verify-code", h.VerifyResetCode)
	users.POST("/reset-password", h.ResetPassword)
	users.POST("/enable-2fa", h.EnableTwoFactor)
	users.POST("/verify-2fa-code", h.VerifyTwoFactorCode)
	users.GET("/temp-login/:token", h.TempLogin)
	users.POST("/cancel-2fa", h.CancelTwoFactor)
	users.GET("/2fa-status", h.TwoFactorStatus)
	users.GET("/2fa-events", h.TwoFactorEvents)
	users.POST("/resend-code", h.ResendCode)

	authed := users.Group("")
	authed.Use(middleware.AuthMiddleware(sessions))
	authed.GET("/profile", h.Profile)
	authed.PUT("/profile", h.UpdateProfile)
	authed.POST("/disable-2fa", h.DisableTwoFactor)

	env.router = r
	return env
}

func (e *testEnv) seedUser(t *testing.T, email, password string, twoFactor bool) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &model.User{
		Name:             "Household Owner",
		Email:            email,
		PasswordHash:     string(hash),
		Preferences:      model.DefaultPreferences(),
		TwoFactorEnabled: twoFactor,
	}
	if err := e.users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) map[string]any {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
	return decode(t, w)
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t, Options{})

	w := env.do(t, http.MethodPost, "/api/users/register", gin.H{
		"name": "Aina", "email": "Aina@Example.com", "password": "secret1", "householdSize": "3",
	}, "")
	resp := expectStatus(t, w, http.StatusCreated)
	if resp["token"] == "" || resp["token"] == nil {
		t.Fatalf("expected token in %v", resp)
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), middleware.SessionCookie+"=") {
		t.Fatalf("expected session cookie, got %q", w.Header().Get("Set-Cookie"))
	}
	user := resp["user"].(map[string]any)
	if user["email"] != "aina@example.com" {
		t.Fatalf("expected normalized email, got %v", user["email"])
	}
	if _, leaked := user["password"]; leaked {
		t.Fatal("password hash must not be serialized")
	}

	w = env.do(t, http.MethodPost, "/api/users/register", gin.H{
		"name": "Aina", "email": "aina@example.com", "password": "secret1",
	}, "")
	expectStatus(t, w, http.StatusConflict)

	w = env.do(t, http.MethodPost, "/api/users/register", gin.H{
		"name": "A", "email": "short@example.com", "password": "secret1",
	}, "")
	expectStatus(t, w, http.StatusBadRequest)

	w = env.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "aina@example.com", "password": "wrong"}, "")
	expectStatus(t, w, http.StatusUnauthorized)

	w = env.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "nobody@example.com", "password": "secret1"}, "")
	expectStatus(t, w, http.StatusUnauthorized)

	w = env.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "aina@example.com", "password": "secret1"}, "")
	resp = expectStatus(t, w, http.StatusOK)
	token, _ := resp["token"].(string)

	w = env.do(t, http.MethodGet, "/api/users/profile", nil, token)
	resp = expectStatus(t, w, http.StatusOK)
	if resp["name"] != "Aina" || resp["householdSize"] != "3" {
		t.Fatalf("unexpected profile %v", resp)
	}

	w = env.do(t, http.MethodGet, "/api/users/profile", nil, "")
	expectStatus(t, w, http.StatusUnauthorized)
}

func TestLogin_TwoFactorFlow(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.seedUser(t, "mei@example.com", "secret1", true)

	w := env.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "mei@example.com", "password": "secret1"}, "")
	resp := expectStatus(t, w, http.StatusOK)
	if resp["requires2FA"] != true || resp["email"] != "mei@example.com" {
		t.Fatalf("expected 2FA challenge, got %v", resp)
	}
	if _, ok := resp["token"]; ok {
		t.Fatal("session must not be issued before the second factor")
	}
	if _, ok := resp["verificationCode"]; ok {
		t.Fatal("code must not be exposed by default")
	}

	w = env.do(t, http.MethodPost, "/api/users/verify-2fa-login", gin.H{"email": "mei@example.com", "verificationCode": "000000"}, "")
	resp = expectStatus(t, w, http.StatusBadRequest)
	if resp["error"] != msgInvalidCode {
		t.Fatalf("expected generic message, got %v", resp["error"])
	}

	w = env.do(t, http.MethodPost, "/api/users/verify-2fa-login", gin.H{"email": "mei@example.com", "verificationCode": "482913"}, "")
	resp = expectStatus(t, w, http.StatusOK)
	if resp["token"] == nil {
		t.Fatalf("expected session token, got %v", resp)
	}

	w = env.do(t, http.MethodPost, "/api/users/verify-2fa-login", gin.H{"email": "mei@example.com", "verificationCode": "482913"}, "")
	expectStatus(t, w, http.StatusBadRequest)
}

func TestLogin_TwoFactorCodeExpires(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.seedUser(t, "ken@example.com", "secret1", true)

	w := env.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "ken@example.com", "password": "secret1"}, "")
	expectStatus(t, w, http.StatusOK)

	env.now = env.now.Add(121 * time.Second)
	w = env.do(t, http.MethodPost, "/api/users/verify-2fa-login", gin.H{"email": "ken@example.com", "verificationCode": "482913"}, "")
	resp := expectStatus(t, w, http.StatusBadRequest)
	if resp["error"] != msgInvalidCode {
		t.Fatalf("expected generic message, got %v", resp["error"])
	}
}

func TestPasswordReset(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.seedUser(t, "siti@example.com", "oldpass", false)

	w := env.do(t, http.MethodPost, "/api/users/forgot-password", gin.H{}, "")
	expectStatus(t, w, http.StatusBadRequest)

	w = env.do(t, http.MethodPost, "/api/users/forgot-password", gin.H{"email": "ghost@example.com"}, "")
	expectStatus(t, w, http.StatusNotFound)

	w = env.do(t, http.MethodPost, "/api/users/forgot-password", gin.H{"email": "Siti@example.com"}, "")
	resp := expectStatus(t, w, http.StatusOK)
	if resp["email"] != "siti@example.com" {
		t.Fatalf("unexpected response %v", resp)
	}

	w = env.do(t, http.MethodPost, "/api/users/verify-code", gin.H{"email": "siti@example.com", "verificationCode": "000000"}, "")
	expectStatus(t, w, http.StatusBadRequest)

	w = env.do(t, http.MethodPost, "/api/users/verify-code", gin.H{"email": "siti@example.com", "verificationCode": "482913"}, "")
	expectStatus(t, w, http.StatusOK)

	w = env.do(t, http.MethodPost, "/api/users/reset-password", gin.H{
		"email": "siti@example.com", "verificationCode": "482913", "newPassword": "newpass", "confirmPassword": "other",
	}, "")
	expectStatus(t, w, http.StatusBadRequest)

	w = env.do(t, http.MethodPost, "/api/users/reset-password", gin.H{
		"email": "siti@example.com", "verificationCode": "482913", "newPassword": "newpass", "confirmPassword": "newpass",
	}, "")
	expectStatus(t, w, http.StatusOK)

	w = env.do(t, http.MethodPost, "/api/users/reset-password", gin.H{
		"email": "siti@example.com", "verificationCode": "482913", "newPassword": "again1",
	}, "")
	expectStatus(t, w, http.StatusBadRequest)

	w = env.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "siti@example.com", "password": "oldpass"}, "")
	expectStatus(t, w, http.StatusUnauthorized)
	w = env.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "siti@example.com", "password": "newpass"}, "")
	expectStatus(t, w, http.StatusOK)
}

func TestForgotPassword_ConcealAndCooldown(t *testing.T) {
	env := newTestEnv(t, Options{ConcealAccounts: true, ExposeCodes: true})
	env.seedUser(t, "lee@example.com", "secret1", false)

	w := env.do(t, http.MethodPost, "/api/users/forgot-password", gin.H{"email": "ghost@example.com"}, "")
	expectStatus(t, w, http.StatusOK)

	w = env.do(t, http.MethodPost, "/api/users/forgot-password", gin.H{"email": "lee@example.com"}, "")
	resp := expectStatus(t, w, http.StatusOK)
	if resp["verificationCode"] != "482913" {
		t.Fatalf("expected exposed code, got %v", resp)
	}

	w = env.do(t, http.MethodPost, "/api/users/forgot-password", gin.H{"email": "lee@example.com"}, "")
	resp = expectStatus(t, w, http.StatusTooManyRequests)
	if secs, ok := resp["retry_after"].(float64); !ok || secs < 1 {
		t.Fatalf("expected retry_after, got %v", resp)
	}
}

func TestConfirm_UnknownEmailIsGeneric(t *testing.T) {
	env := newTestEnv(t, Options{})
	for _, path := range []string{"/api/users/verify-code", "/api/users/verify-2fa-code", "/api/users/verify-2fa-login"} {
		w := env.do(t, http.MethodPost, path, gin.H{"email": "ghost@example.com", "verificationCode": "123456"}, "")
		resp := expectStatus(t, w, http.StatusBadRequest)
		if resp["error"] != msgInvalidCode {
			t.Fatalf("%s: expected generic message, got %v", path, resp["error"])
		}
	}
}

func TestVerifyCode_LockoutAfterFailedAttempts(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.seedUser(t, "raj@example.com", "secret1", false)

	w := env.do(t, http.MethodPost, "/api/users/forgot-password", gin.H{"email": "raj@example.com"}, "")
	expectStatus(t, w, http.StatusOK)

	for i := 1; i < 5; i++ {
		w = env.do(t, http.MethodPost, "/api/users/verify-code", gin.H{"email": "raj@example.com", "verificationCode": "111111"}, "")
		expectStatus(t, w, http.StatusBadRequest)
	}
	w = env.do(t, http.MethodPost, "/api/users/verify-code", gin.H{"email": "raj@example.com", "verificationCode": "111111"}, "")
	expectStatus(t, w, http.StatusTooManyRequests)

	w = env.do(t, http.MethodPost, "/api/users/verify-code", gin.H{"email": "raj@example.com", "verificationCode": "482913"}, "")
	expectStatus(t, w, http.StatusBadRequest)
}

func TestEnableTwoFactor_ByLink(t *testing.T) {
	env := newTestEnv(t, Options{ExposeCodes: true})
	env.seedUser(t, "nur@example.com", "secret1", false)

	w := env.do(t, http.MethodPost, "/api/users/enable-2fa", gin.H{"email": "ghost@example.com"}, "")
	expectStatus(t, w, http.StatusNotFound)

	w = env.do(t, http.MethodPost, "/api/users/enable-2fa", gin.H{"email": "nur@example.com"}, "")
	resp := expectStatus(t, w, http.StatusOK)
	if resp["tempToken"] != "tok-123" {
		t.Fatalf("expected exposed token, got %v", resp)
	}

	w = env.do(t, http.MethodGet, "/api/users/temp-login/wrong", nil, "")
	expectStatus(t, w, http.StatusNotFound)

	w = env.do(t, http.MethodGet, "/api/users/temp-login/tok-123", nil, "")
	resp = expectStatus(t, w, http.StatusOK)
	if resp["token"] == nil {
		t.Fatalf("expected session, got %v", resp)
	}
	user := resp["user"].(map[string]any)
	if user["email"] != "nur@example.com" || user["twoFactorEnabled"] != true {
		t.Fatalf("unexpected user %v", user)
	}

	w = env.do(t, http.MethodGet, "/api/users/temp-login/tok-123", nil, "")
	expectStatus(t, w, http.StatusNotFound)
}

func TestEnableTwoFactor_StatusCancelAndEvents(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.seedUser(t, "tan@example.com", "secret1", false)

	w := env.do(t, http.MethodGet, "/api/users/2fa-status?email=tan@example.com", nil, "")
	resp := expectStatus(t, w, http.StatusOK)
	if resp["state"] != "none" {
		t.Fatalf("expected none, got %v", resp)
	}

	w = env.do(t, http.MethodPost, "/api/users/enable-2fa", gin.H{"email": "tan@example.com"}, "")
	expectStatus(t, w, http.StatusOK)

	w = env.do(t, http.MethodGet, "/api/users/2fa-status?email=tan@example.com", nil, "")
	resp = expectStatus(t, w, http.StatusOK)
	if resp["state"] != "issued" || resp["expiresAt"] == nil {
		t.Fatalf("expected issued, got %v", resp)
	}

	w = env.do(t, http.MethodPost, "/api/users/cancel-2fa", gin.H{"email": "tan@example.com"}, "")
	expectStatus(t, w, http.StatusUnauthorized)
	w = env.do(t, http.MethodPost, "/api/users/cancel-2fa", gin.H{"email": "tan@example.com", "tempToken": "wrong"}, "")
	expectStatus(t, w, http.StatusForbidden)
	w = env.do(t, http.MethodPost, "/api/users/cancel-2fa", gin.H{"email": "tan@example.com", "tempToken": "tok-123"}, "")
	expectStatus(t, w, http.StatusOK)

	w = env.do(t, http.MethodPost, "/api/users/verify-2fa-code", gin.H{"email": "tan@example.com", "verificationCode": "482913"}, "")
	expectStatus(t, w, http.StatusBadRequest)

	w = env.do(t, http.MethodGet, "/api/users/2fa-events?email=tan@example.com", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "event:state") || !strings.Contains(body, `"state":"cancelled"`) {
		t.Fatalf("unexpected stream %q", body)
	}

	w = env.do(t, http.MethodGet, "/api/users/2fa-events?email=ghost@example.com", nil, "")
	expectStatus(t, w, http.StatusNotFound)
}

func TestTwoFactorEvents_ClosesAtExpiry(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.seedUser(t, "ong@example.com", "secret1", false)

	w := env.do(t, http.MethodPost, "/api/users/enable-2fa", gin.H{"email": "ong@example.com"}, "")
	expectStatus(t, w, http.StatusOK)

	env.now = env.now.Add(11 * time.Minute)
	w = env.do(t, http.MethodGet, "/api/users/2fa-events?email=ong@example.com", nil, "")
	body := w.Body.String()
	if !strings.Contains(body, `"state":"expired"`) {
		t.Fatalf("expected expired event, got %q", body)
	}
}

func TestVerifyTwoFactorCode_EnablesAndDisable(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.seedUser(t, "zul@example.com", "secret1", false)

	w := env.do(t, http.MethodPost, "/api/users/enable-2fa", gin.H{"email": "zul@example.com"}, "")
	expectStatus(t, w, http.StatusOK)
	w = env.do(t, http.MethodPost, "/api/users/verify-2fa-code", gin.H{"email": "zul@example.com", "verificationCode": "482913"}, "")
	resp := expectStatus(t, w, http.StatusOK)
	if resp["twoFactorEnabled"] != true {
		t.Fatalf("unexpected response %v", resp)
	}

	w = env.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "zul@example.com", "password": "secret1"}, "")
	resp = expectStatus(t, w, http.StatusOK)
	if resp["requires2FA"] != true {
		t.Fatalf("expected 2FA login, got %v", resp)
	}
	w = env.do(t, http.MethodPost, "/api/users/verify-2fa-login", gin.H{"email": "zul@example.com", "verificationCode": "482913"}, "")
	resp = expectStatus(t, w, http.StatusOK)
	token := resp["token"].(string)

	w = env.do(t, http.MethodPost, "/api/users/disable-2fa", nil, token)
	expectStatus(t, w, http.StatusOK)

	w = env.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "zul@example.com", "password": "secret1"}, "")
	resp = expectStatus(t, w, http.StatusOK)
	if resp["token"] == nil {
		t.Fatalf("expected direct session, got %v", resp)
	}
}

func TestResendCode(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.seedUser(t, "hui@example.com", "secret1", false)

	w := env.do(t, http.MethodPost, "/api/users/resend-code", gin.H{"email": "hui@example.com", "purpose": "sms"}, "")
	expectStatus(t, w, http.StatusBadRequest)

	w = env.do(t, http.MethodPost, "/api/users/resend-code", gin.H{"email": "hui@example.com", "purpose": "two-factor-login"}, "")
	expectStatus(t, w, http.StatusBadRequest)

	w = env.do(t, http.MethodPost, "/api/users/resend-code", gin.H{"email": "hui@example.com", "purpose": "password-reset"}, "")
	resp := expectStatus(t, w, http.StatusOK)
	if resp["purpose"] != "password-reset" {
		t.Fatalf("unexpected response %v", resp)
	}

	w = env.do(t, http.MethodPost, "/api/users/resend-code", gin.H{"email": "hui@example.com", "purpose": "password-reset"}, "")
	expectStatus(t, w, http.StatusTooManyRequests)
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodPost, "/api/users/register", gin.H{
		"name": "Farah", "email": "farah@example.com", "password": "secret1",
	}, "")
	resp := expectStatus(t, w, http.StatusCreated)
	token := resp["token"].(string)

	w = env.do(t, http.MethodPut, "/api/users/profile", gin.H{"householdSize": "11"}, token)
	expectStatus(t, w, http.StatusBadRequest)

	w = env.do(t, http.MethodPut, "/api/users/profile", gin.H{
		"householdSize": "10+",
		"dateOfBirth":   "1990-04-12",
		"preferences": gin.H{
			"notifications": gin.H{"email": false, "sms": true},
			"privacy":       gin.H{"profileVisibility": "private", "dataSharing": false},
		},
	}, token)
	resp = expectStatus(t, w, http.StatusOK)
	if resp["householdSize"] != "10+" || resp["name"] != "Farah" {
		t.Fatalf("unexpected profile %v", resp)
	}
	prefs := resp["preferences"].(map[string]any)
	if prefs["privacy"].(map[string]any)["profileVisibility"] != "private" {
		t.Fatalf("unexpected preferences %v", prefs)
	}
}

func TestResetPassword_FailedSaveKeepsCode(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.seedUser(t, "ida@example.com", "oldpass", false)

	w := env.do(t, http.MethodPost, "/api/users/forgot-password", gin.H{"email": "ida@example.com"}, "")
	expectStatus(t, w, http.StatusOK)

	reset := gin.H{"email": "ida@example.com", "verificationCode": "482913", "newPassword": "newpass"}
	env.store.saveErr = errors.New("write timeout")
	w = env.do(t, http.MethodPost, "/api/users/reset-password", reset, "")
	expectStatus(t, w, http.StatusServiceUnavailable)

	env.store.saveErr = nil
	stored, err := env.users.FindByEmail(context.Background(), "ida@example.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.PasswordReset.State != model.StateIssued || stored.PasswordReset.Code != "482913" {
		t.Fatalf("code must survive the failed reset: %+v", stored.PasswordReset)
	}
	w = env.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "ida@example.com", "password": "oldpass"}, "")
	expectStatus(t, w, http.StatusOK)

	w = env.do(t, http.MethodPost, "/api/users/reset-password", reset, "")
	expectStatus(t, w, http.StatusOK)
	w = env.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "ida@example.com", "password": "newpass"}, "")
	expectStatus(t, w, http.StatusOK)
}

func TestCancelTwoFactor_RequiresProof(t *testing.T) {
	env := newTestEnv(t, Options{ConcealAccounts: true})
	register := func(name, email string) string {
		w := env.do(t, http.MethodPost, "/api/users/register", gin.H{"name": name, "email": email, "password": "secret1"}, "")
		return expectStatus(t, w, http.StatusCreated)["token"].(string)
	}
	owner := register("Mei", "mei@example.com")
	other := register("Kamal", "kamal@example.com")

	w := env.do(t, http.MethodPost, "/api/users/enable-2fa", gin.H{"email": "mei@example.com"}, "")
	expectStatus(t, w, http.StatusOK)

	w = env.do(t, http.MethodPost, "/api/users/cancel-2fa", gin.H{"email": "mei@example.com"}, "")
	expectStatus(t, w, http.StatusUnauthorized)
	w = env.do(t, http.MethodPost, "/api/users/cancel-2fa", gin.H{"email": "mei@example.com"}, other)
	expectStatus(t, w, http.StatusForbidden)
	w = env.do(t, http.MethodPost, "/api/users/cancel-2fa", gin.H{"email": "ghost@example.com", "tempToken": "tok-123"}, "")
	resp := expectStatus(t, w, http.StatusForbidden)
	if resp["error"] != msgCancelDenied {
		t.Fatalf("unknown email must look like a wrong token, got %v", resp)
	}

	w = env.do(t, http.MethodGet, "/api/users/2fa-status?email=mei@example.com", nil, "")
	if resp := expectStatus(t, w, http.StatusOK); resp["state"] != "issued" {
		t.Fatalf("rejected cancels must leave the setup pending, got %v", resp)
	}

	w = env.do(t, http.MethodPost, "/api/users/cancel-2fa", gin.H{}, owner)
	expectStatus(t, w, http.StatusOK)
	w = env.do(t, http.MethodPost, "/api/users/verify-2fa-code", gin.H{"email": "mei@example.com", "verificationCode": "482913"}, "")
	expectStatus(t, w, http.StatusBadRequest)
}

func TestTwoFactorStatus_ConcealsUnknownAccounts(t *testing.T) {
	env := newTestEnv(t, Options{ConcealAccounts: true})
	env.seedUser(t, "yan@example.com", "secret1", false)

	known := expectStatus(t, env.do(t, http.MethodGet, "/api/users/2fa-status?email=yan@example.com", nil, ""), http.StatusOK)
	unknown := expectStatus(t, env.do(t, http.MethodGet, "/api/users/2fa-status?email=ghost@example.com", nil, ""), http.StatusOK)
	if unknown["state"] != "none" || unknown["twoFactorEnabled"] != false {
		t.Fatalf("unexpected status for unknown email %v", unknown)
	}
	if known["state"] != unknown["state"] || known["twoFactorEnabled"] != unknown["twoFactorEnabled"] {
		t.Fatalf("known %v and unknown %v must look the same", known, unknown)
	}

	w := env.do(t, http.MethodGet, "/api/users/2fa-events?email=ghost@example.com", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"state":"none"`) {
		t.Fatalf("expected a single none event, got %d %q", w.Code, w.Body.String())
	}
}
