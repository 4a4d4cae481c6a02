package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Jun20220703/bit216as/internal/config"
	"github.com/Jun20220703/bit216as/internal/model"
	"github.com/Jun20220703/bit216as/internal/pkg/outbox"
	"github.com/Jun20220703/bit216as/internal/store/memstore"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Email.SMTPHost = ""
	cfg.Security.JWTSecret = "server-test-secret"
	cfg.Security.CORSOrigins = nil
	cfg.RateLimit.Rate = 0
	cfg.Verification.DispatchWorkers = 1
	cfg.Verification.DispatchQueue = 8
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, rdb *redis.Client) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(cfg, logger, memstore.New(), rdb)
	s.now = func() time.Time { return time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC) }
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func mustStatus(t *testing.T, w *httptest.ResponseRecorder, want int) map[string]any {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
	out := map[string]any{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func register(t *testing.T, h http.Handler, name, email string) string {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/users/register", map[string]any{
		"name": name, "email": email, "password": "secret1",
	}, "")
	resp := mustStatus(t, w, http.StatusCreated)
	return resp["token"].(string)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	w := doJSON(t, s.Router(), http.MethodGet, "/healthz", nil, "")
	resp := mustStatus(t, w, http.StatusOK)
	if resp["status"] != "ok" {
		t.Fatalf("unexpected body %v", resp)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
}

func TestFoods_RequireAuth(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	w := doJSON(t, s.Router(), http.MethodGet, "/api/foods", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestFoods_InventoryView(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	h := s.Router()
	token := register(t, h, "Aina", "aina@example.com")

	for _, f := range []map[string]any{
		{"name": "Milk", "qty": 2, "expiry": "2026-06-03", "category": "Dairy", "storage": "Fridge"},
		{"name": "Yogurt", "qty": 4, "expiry": "2026-06-20", "category": "Dairy", "storage": "Fridge"},
		{"name": "Rice", "qty": 1, "expiry": "2027-01-01", "category": "Grains", "storage": "Shelf"},
	} {
		mustStatus(t, doJSON(t, h, http.MethodPost, "/api/foods", f, token), http.StatusCreated)
	}
	mustStatus(t, doJSON(t, h, http.MethodPost, "/api/foods", map[string]any{"name": "Bad", "expiry": "soon"}, token), http.StatusBadRequest)

	w := doJSON(t, h, http.MethodGet, "/api/foods?category=Dairy&storage=Fridge", nil, token)
	resp := mustStatus(t, w, http.StatusOK)
	if resp["total"].(float64) != 2 {
		t.Fatalf("expected 2 dairy items, got %v", resp["total"])
	}
	soon := resp["expiringSoon"].([]any)
	if len(soon) != 1 || soon[0].(map[string]any)["name"] != "Milk" {
		t.Fatalf("expected milk expiring soon, got %v", soon)
	}
	locations := resp["locations"].([]any)
	if len(locations) != 1 {
		t.Fatalf("expected one location facet for dairy, got %v", locations)
	}

	mustStatus(t, doJSON(t, h, http.MethodGet, "/api/foods?status=rotten", nil, token), http.StatusBadRequest)

	other := register(t, h, "Ben", "ben@example.com")
	resp = mustStatus(t, doJSON(t, h, http.MethodGet, "/api/foods", nil, other), http.StatusOK)
	if resp["total"].(float64) != 0 {
		t.Fatalf("foods must be scoped to owner, got %v", resp["total"])
	}
}

func TestFoods_UseAndStatus(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	h := s.Router()
	token := register(t, h, "Chen", "chen@example.com")

	created := mustStatus(t, doJSON(t, h, http.MethodPost, "/api/foods", map[string]any{
		"name": "Eggs", "qty": 3, "expiry": "2026-06-10", "category": "Dairy", "storage": "Fridge",
	}, token), http.StatusCreated)
	id := created["id"].(string)

	other := register(t, h, "Dina", "dina@example.com")
	mustStatus(t, doJSON(t, h, http.MethodGet, "/api/foods/"+id, nil, other), http.StatusNotFound)

	mustStatus(t, doJSON(t, h, http.MethodPost, "/api/foods/"+id+"/use", map[string]any{"qty": 5}, token), http.StatusBadRequest)
	resp := mustStatus(t, doJSON(t, h, http.MethodPost, "/api/foods/"+id+"/use", map[string]any{"qty": 3}, token), http.StatusOK)
	if resp["qty"].(float64) != 0 || resp["status"] != string(model.StatusConsumed) {
		t.Fatalf("expected consumed item, got %v", resp)
	}

	mustStatus(t, doJSON(t, h, http.MethodPatch, "/api/foods/"+id+"/status", map[string]any{"status": "inventory"}, token), http.StatusBadRequest)

	resp = mustStatus(t, doJSON(t, h, http.MethodPut, "/api/foods/"+id, map[string]any{"notes": "finished"}, token), http.StatusOK)
	if resp["notes"] != "finished" {
		t.Fatalf("unexpected update %v", resp)
	}

	mustStatus(t, doJSON(t, h, http.MethodDelete, "/api/foods/"+id, nil, token), http.StatusOK)
	mustStatus(t, doJSON(t, h, http.MethodGet, "/api/foods/"+id, nil, token), http.StatusNotFound)
}

func TestDonations_Lifecycle(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	h := s.Router()
	owner := register(t, h, "Elin", "elin@example.com")
	visitor := register(t, h, "Faiz", "faiz@example.com")

	created := mustStatus(t, doJSON(t, h, http.MethodPost, "/api/foods", map[string]any{
		"name": "Bread", "qty": 2, "expiry": "2026-06-05", "category": "Bakery", "storage": "Shelf",
	}, owner), http.StatusCreated)
	foodID := created["id"].(string)

	mustStatus(t, doJSON(t, h, http.MethodPost, "/api/donations", map[string]any{"foodId": foodID, "location": "Lobby"}, owner), http.StatusBadRequest)
	mustStatus(t, doJSON(t, h, http.MethodPost, "/api/donations", map[string]any{
		"foodId": foodID, "location": "Lobby", "availability": "Evenings",
	}, visitor), http.StatusNotFound)

	donation := mustStatus(t, doJSON(t, h, http.MethodPost, "/api/donations", map[string]any{
		"foodId": foodID, "location": "Lobby", "availability": "Evenings",
	}, owner), http.StatusCreated)
	donationID := donation["id"].(string)
	if donation["foodName"] != "Bread" || donation["qty"].(float64) != 2 {
		t.Fatalf("unexpected donation %v", donation)
	}

	food := mustStatus(t, doJSON(t, h, http.MethodGet, "/api/foods/"+foodID, nil, owner), http.StatusOK)
	if food["status"] != string(model.StatusDonation) {
		t.Fatalf("expected food in donation, got %v", food["status"])
	}

	list := mustStatus(t, doJSON(t, h, http.MethodGet, "/api/donations", nil, visitor), http.StatusOK)
	if list["total"].(float64) != 1 {
		t.Fatalf("donations should be visible to everyone, got %v", list)
	}

	mustStatus(t, doJSON(t, h, http.MethodDelete, "/api/donations/"+donationID, nil, visitor), http.StatusForbidden)
	mustStatus(t, doJSON(t, h, http.MethodDelete, "/api/donations/"+donationID, nil, owner), http.StatusOK)
	mustStatus(t, doJSON(t, h, http.MethodDelete, "/api/donations/"+donationID, nil, owner), http.StatusNotFound)

	food = mustStatus(t, doJSON(t, h, http.MethodGet, "/api/foods/"+foodID, nil, owner), http.StatusOK)
	if food["status"] != string(model.StatusInventory) {
		t.Fatalf("expected food back in inventory, got %v", food["status"])
	}
}

func TestFoods_StatusCannotBypassDonations(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	h := s.Router()
	owner := register(t, h, "Gita", "gita@example.com")

	created := mustStatus(t, doJSON(t, h, http.MethodPost, "/api/foods", map[string]any{
		"name": "Beans", "qty": 4, "expiry": "2026-09-01", "category": "Canned", "storage": "Shelf",
	}, owner), http.StatusCreated)
	foodID := created["id"].(string)
	statusPath := "/api/foods/" + foodID + "/status"

	mustStatus(t, doJSON(t, h, http.MethodPatch, statusPath, map[string]any{"status": "donation"}, owner), http.StatusBadRequest)
	list := mustStatus(t, doJSON(t, h, http.MethodGet, "/api/donations", nil, owner), http.StatusOK)
	if list["total"].(float64) != 0 {
		t.Fatalf("status change must not create a hidden donation, got %v", list)
	}

	donation := mustStatus(t, doJSON(t, h, http.MethodPost, "/api/donations", map[string]any{
		"foodId": foodID, "location": "Gate B", "availability": "Weekends",
	}, owner), http.StatusCreated)

	mustStatus(t, doJSON(t, h, http.MethodPatch, statusPath, map[string]any{"status": "inventory"}, owner), http.StatusBadRequest)
	list = mustStatus(t, doJSON(t, h, http.MethodGet, "/api/donations", nil, owner), http.StatusOK)
	if list["total"].(float64) != 1 {
		t.Fatalf("donation entry must stay listed, got %v", list)
	}
	food := mustStatus(t, doJSON(t, h, http.MethodGet, "/api/foods/"+foodID, nil, owner), http.StatusOK)
	if food["status"] != string(model.StatusDonation) {
		t.Fatalf("expected food still donated, got %v", food["status"])
	}

	mustStatus(t, doJSON(t, h, http.MethodDelete, "/api/donations/"+donation["id"].(string), nil, owner), http.StatusOK)
	list = mustStatus(t, doJSON(t, h, http.MethodGet, "/api/donations", nil, owner), http.StatusOK)
	if list["total"].(float64) != 0 {
		t.Fatalf("withdrawn donation must leave the list, got %v", list)
	}
	food = mustStatus(t, doJSON(t, h, http.MethodPatch, statusPath, map[string]any{"status": "expired"}, owner), http.StatusOK)
	if food["status"] != string(model.StatusExpired) {
		t.Fatalf("expected expired, got %v", food["status"])
	}
}

func TestVerificationFlow_ThroughServer(t *testing.T) {
	cfg := testConfig()
	cfg.App.ExposeCodes = true
	s := newTestServer(t, cfg, nil)
	h := s.Router()
	register(t, h, "Gita", "gita@example.com")

	resp := mustStatus(t, doJSON(t, h, http.MethodPost, "/api/users/enable-2fa", map[string]any{"email": "gita@example.com"}, ""), http.StatusOK)
	code, _ := resp["verificationCode"].(string)
	if len(code) != 6 {
		t.Fatalf("expected exposed 6-digit code, got %v", resp)
	}
	mustStatus(t, doJSON(t, h, http.MethodPost, "/api/users/verify-2fa-code", map[string]any{"email": "gita@example.com", "verificationCode": code}, ""), http.StatusOK)

	resp = mustStatus(t, doJSON(t, h, http.MethodPost, "/api/users/login", map[string]any{"email": "gita@example.com", "password": "secret1"}, ""), http.StatusOK)
	if resp["requires2FA"] != true {
		t.Fatalf("expected second factor, got %v", resp)
	}
	code = resp["verificationCode"].(string)
	resp = mustStatus(t, doJSON(t, h, http.MethodPost, "/api/users/verify-2fa-login", map[string]any{"email": "gita@example.com", "verificationCode": code}, ""), http.StatusOK)
	if resp["token"] == nil {
		t.Fatalf("expected session, got %v", resp)
	}

	s.verifier.Wait()
}

func TestVerificationFlow_ProdHidesCodes(t *testing.T) {
	cfg := testConfig()
	cfg.App.Env = "prod"
	cfg.App.ExposeCodes = true
	s := newTestServer(t, cfg, nil)
	h := s.Router()
	register(t, h, "Hana", "hana@example.com")

	resp := mustStatus(t, doJSON(t, h, http.MethodPost, "/api/users/forgot-password", map[string]any{"email": "hana@example.com"}, ""), http.StatusOK)
	if _, ok := resp["verificationCode"]; ok {
		t.Fatalf("code must never be exposed in prod, got %v", resp)
	}
}

func TestRateLimit_WithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	cfg.RateLimit.Rate = 0.01
	cfg.RateLimit.Burst = 2
	s := newTestServer(t, cfg, rdb)
	h := s.Router()

	body := map[string]any{"email": "nobody@example.com", "password": "secret1"}
	for i := 0; i < 2; i++ {
		w := doJSON(t, h, http.MethodPost, "/api/users/login", body, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("request %d: expected 401, got %d", i, w.Code)
		}
	}
	resp := mustStatus(t, doJSON(t, h, http.MethodPost, "/api/users/login", body, ""), http.StatusTooManyRequests)
	if resp["retry_after"].(float64) < 1 {
		t.Fatalf("expected retry_after, got %v", resp)
	}

	mustStatus(t, doJSON(t, h, http.MethodGet, "/healthz", nil, ""), http.StatusOK)
}

func TestVerificationFlow_StreamDelivery(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	cfg.Redis.Addr = mr.Addr()
	cfg.Verification.Delivery = config.DeliveryStream
	s := newTestServer(t, cfg, rdb)
	h := s.Router()
	register(t, h, "Hana", "hana@example.com")

	mustStatus(t, doJSON(t, h, http.MethodPost, "/api/users/forgot-password", map[string]any{"email": "hana@example.com"}, ""), http.StatusOK)
	s.dispatcher.Wait()

	msgs, err := rdb.XRange(context.Background(), outbox.DefaultStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one queued notification, got %d", len(msgs))
	}
	var env outbox.Envelope
	if err := json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.To != "hana@example.com" || env.Purpose != model.PurposePasswordReset || len(env.Code) != 6 {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestSeedDemoData_Idempotent(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	ctx := context.Background()
	if err := s.SeedDemoData(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.SeedDemoData(ctx); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	users, err := s.store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected one demo user, got %d", len(users))
	}
	donations, err := s.store.ListDonations(ctx)
	if err != nil || len(donations) != 1 {
		t.Fatalf("expected one donation, got %d (%v)", len(donations), err)
	}
}
