package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/intent"
	"github.com/md-rashed-zaman/apptconcierge/services/concierge-service/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStoreDefaultsToMemory(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", "")

	st, pool, err := openStore(context.Background(), quietLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if pool != nil {
		t.Fatal("expected no pool for the memory store")
	}
	if _, ok := st.(*storage.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", st)
	}

	t.Setenv("STORE_DRIVER", "postgres")
	if _, _, err := openStore(context.Background(), quietLogger()); err == nil {
		t.Fatal("expected error for postgres without DATABASE_URL")
	}
	t.Setenv("STORE_DRIVER", "sqlite")
	if _, _, err := openStore(context.Background(), quietLogger()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOptionalCollaborators(t *testing.T) {
	t.Setenv("INTENT_GRPC_ADDR", "")
	t.Setenv("SMTP_HOST", "")
	t.Setenv("SMS_WEBHOOK_URL", "")
	t.Setenv("SMS_NOOP", "")
	t.Setenv("DIRECTORY_SYNC", "")

	r, closeFn, err := newResolver(quietLogger())
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	defer closeFn()
	if _, ok := r.(intent.Unavailable); !ok {
		t.Fatalf("expected unavailable resolver, got %T", r)
	}
	if newEmailSender(quietLogger()) != nil || newSMSSender(quietLogger()) != nil {
		t.Fatal("expected email and sms disabled")
	}
	if s, err := newSyncer(quietLogger(), nil); err != nil || s != nil {
		t.Fatalf("expected directory sync disabled, got %v %v", s, err)
	}

	t.Setenv("DIRECTORY_SYNC", "kafka")
	if _, err := newSyncer(quietLogger(), nil); err == nil {
		t.Fatal("expected kafka directory sync to need brokers")
	}
}

func TestWebhookLimiterInMemory(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "1")

	h := newWebhookLimiter(quietLogger(), nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		rw := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/channels/sms", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		h.ServeHTTP(rw, req)
		if rw.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i+1, want, rw.Code)
		}
	}
}
