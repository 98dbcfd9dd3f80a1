package main

import (
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets key for the test and restores it afterwards.
func clearEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

func TestRun_ReturnsConfigError(t *testing.T) {
	clearEnv(t, "JWT_SECRET")

	err := run(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("run = %v, want missing JWT_SECRET error", err)
	}
}

func TestRun_ReturnsWhenPortIsTaken(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", strconv.Itoa(ln.Addr().(*net.TCPAddr).Port))
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "RABBITMQ_URL", "BOOTSTRAP_ADMINS"} {
		clearEnv(t, key)
	}

	done := make(chan error, 1)
	go func() { done <- run(slog.New(slog.NewTextHandler(io.Discard, nil))) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "http server") {
			t.Fatalf("run = %v, want http server error", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after the listener failed")
	}
}
