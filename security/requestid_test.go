package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewRequestID(t *testing.T) {
	id1 := NewRequestID()
	id2 := NewRequestID()

	if id1 == id2 {
		t.Error("expected unique request IDs")
	}
	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("NewRequestID() = %q is not a UUID: %v", id1, err)
	}
	if !requestIDPattern.MatchString(id1) {
		t.Errorf("NewRequestID() = %q does not satisfy the accepted pattern", id1)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := RequestIDFromContext(ctx); got != "req-123" {
		t.Errorf("RequestIDFromContext() = %q, want %q", got, "req-123")
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("RequestIDFromContext() on empty context = %q, want empty", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		wantKept bool
	}{
		{name: "no upstream id", incoming: "", wantKept: false},
		{name: "valid upstream id", incoming: "upstream_id-42", wantKept: true},
		{name: "header injection", incoming: "abc\r\nSet-Cookie: x=1", wantKept: false},
		{name: "disallowed characters", incoming: "Root=1-abc", wantKept: false},
		{name: "too long", incoming: strings.Repeat("a", 129), wantKept: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			got := rec.Header().Get(RequestIDHeader)
			if got == "" {
				t.Fatal("response is missing X-Request-ID")
			}
			if got != seen {
				t.Errorf("context id %q differs from response id %q", seen, got)
			}
			if tt.wantKept && got != tt.incoming {
				t.Errorf("X-Request-ID = %q, want upstream %q", got, tt.incoming)
			}
			if !tt.wantKept && got == tt.incoming {
				t.Errorf("X-Request-ID = %q, should have been replaced", got)
			}
		})
	}
}
