package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"cryptofx/pkg/logging"

	"github.com/gin-gonic/gin"
)

func TestParseTrustedProxies(t *testing.T) {
	cidrs, invalid := ParseTrustedProxies([]string{" 10.0.0.0/8", "192.0.2.7", "::1", "", "not-an-ip", "10.0.0.0/99"})

	wantCIDRs := []string{"10.0.0.0/8", "192.0.2.7/32", "::1/128"}
	if !reflect.DeepEqual(cidrs, wantCIDRs) {
		t.Fatalf("expected %v, got %v", wantCIDRs, cidrs)
	}
	wantInvalid := []string{"not-an-ip", "10.0.0.0/99"}
	if !reflect.DeepEqual(invalid, wantInvalid) {
		t.Fatalf("expected invalid %v, got %v", wantInvalid, invalid)
	}
}

func TestConfigureTrustedProxies(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		want    string
	}{
		{"none trusted", nil, "192.0.2.1"},
		{"only invalid entries", []string{"garbage"}, "192.0.2.1"},
		{"peer not in range", []string{"10.0.0.0/8"}, "192.0.2.1"},
		{"peer trusted", []string{"192.0.2.1"}, "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			ConfigureTrustedProxies(r, tt.entries, logging.NewLogger())
			var got string
			r.GET("/ip", func(c *gin.Context) { got = c.ClientIP() })

			req, _ := http.NewRequestWithContext(context.Background(), "GET", "/ip", nil)
			req.RemoteAddr = "192.0.2.1:4321"
			req.Header.Set("X-Forwarded-For", "203.0.113.9")
			r.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Fatalf("expected client ip %q, got %q", tt.want, got)
			}
		})
	}
}
