package server

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

	"github.com/hongminglow/vip-ledger/internal/auth"
	"github.com/hongminglow/vip-ledger/internal/config"
	"github.com/hongminglow/vip-ledger/internal/finance"
	"github.com/hongminglow/vip-ledger/internal/storage/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	svc := finance.NewService(store, nil, logger, finance.Options{AutoConfirmDeposits: true})
	if err := svc.SeedPlans(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cfg := config.Config{Port: "0", Currency: "NPR", CORSAllowedOrigins: "https://app.example"}
	ts := httptest.NewServer(NewRouter(cfg, Deps{
		Finance:  svc,
		Accounts: store,
		Tokens:   auth.NewTokenManager("secret", "vip-ledger", time.Hour),
		Logger:   logger,
		Backend:  "memory",
	}))
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRouter_RegisterLoginDeposit(t *testing.T) {
	ts := newTestServer(t)

	resp := call(t, http.MethodPost, ts.URL+"/register", "", map[string]string{
		"username": "sita", "email": "sita@example.com", "phone": "+9779800000000", "password": "correct-horse",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	resp = call(t, http.MethodPost, ts.URL+"/login", "", map[string]string{"identifier": "sita", "password": "correct-horse"})
	var login struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil || login.Data.Token == "" {
		t.Fatalf("login decode: %v (%+v)", err, login)
	}

	if resp := call(t, http.MethodPost, ts.URL+"/deposits", "", map[string]any{"amount": 100, "reference": "r"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("deposit without token status = %d", resp.StatusCode)
	}
	if resp := call(t, http.MethodPost, ts.URL+"/deposits", login.Data.Token, map[string]any{"amount": 100, "reference": "r"}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("deposit status = %d", resp.StatusCode)
	}
	if resp := call(t, http.MethodGet, ts.URL+"/portfolios/sita", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("portfolio status = %d", resp.StatusCode)
	}
}

func TestRouter_PublicRoutesAndCORS(t *testing.T) {
	ts := newTestServer(t)

	if resp := call(t, http.MethodGet, ts.URL+"/health", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if resp := call(t, http.MethodGet, ts.URL+"/plans", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("plans status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/deposits", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow origin = %q", got)
	}
}
