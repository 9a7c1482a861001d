package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/austindbirch/harbor_remind/internal/config"
)

func TestNewVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(JSONWebKeySet{Keys: []JSONWebKey{jwkFor(&signingKey(t).PublicKey, testKid)}})
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		cfg      config.Auth
		wantType string
		wantErr  bool
	}{
		{name: "header mode", cfg: config.Auth{Mode: "header", EmailHeader: "X-User-Email"}, wantType: "header"},
		{name: "jwt with PEM", cfg: config.Auth{Mode: "jwt", PublicKeyPEM: publicPEM(t, false)}, wantType: "jwt"},
		{name: "jwt with JWKS", cfg: config.Auth{Mode: "jwt", JWKSURL: srv.URL}, wantType: "jwt"},
		{name: "jwt without keys", cfg: config.Auth{Mode: "jwt"}, wantErr: true},
		{name: "jwt with bad PEM", cfg: config.Auth{Mode: "jwt", PublicKeyPEM: "nope"}, wantErr: true},
		{name: "unknown mode", cfg: config.Auth{Mode: "saml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewVerifier(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewVerifier() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			switch v.(type) {
			case HeaderVerifier:
				if tt.wantType != "header" {
					t.Errorf("NewVerifier() = HeaderVerifier, want %s", tt.wantType)
				}
			case *JWTValidator:
				if tt.wantType != "jwt" {
					t.Errorf("NewVerifier() = *JWTValidator, want %s", tt.wantType)
				}
			default:
				t.Errorf("NewVerifier() returned %T", v)
			}
		})
	}
}
