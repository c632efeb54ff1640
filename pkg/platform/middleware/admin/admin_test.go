package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireAdminToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name     string
		expected string
		sent     string
		status   int
	}{
		{"matching token passes", "s3cret", "s3cret", http.StatusNoContent},
		{"wrong token rejected", "s3cret", "guess", http.StatusUnauthorized},
		{"missing token rejected", "s3cret", "", http.StatusUnauthorized},
		{"unconfigured token rejects everything", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := RequireAdminToken(tc.expected, logger)(ok)
			req := httptest.NewRequest(http.MethodGet, "/admin/guard/settings", nil)
			if tc.sent != "" {
				req.Header.Set(HeaderAdminToken, tc.sent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}
