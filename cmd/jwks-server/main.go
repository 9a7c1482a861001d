package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"

	"github.com/austindbirch/harbor_remind/internal/auth"
	"github.com/austindbirch/harbor_remind/internal/config"
	"github.com/austindbirch/harbor_remind/internal/logging"
)

var (
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	keyID      = "harborremind-key-1"
	issuer     = "harborremind-auth"
	audience   = "harborremind-api"

	logger   = logging.New("jwks-server")
	validate = validator.New()
)

// Init attempts to load an existing RSA key pair from env vars. If none found, it generates a new pair
func init() {
	var err error

	if privateKeyPEM := os.Getenv("JWT_PRIVATE_KEY"); privateKeyPEM != "" {
		block, _ := pem.Decode([]byte(privateKeyPEM))
		if block == nil {
			logger.Plain().Fatal("Failed to decode PEM private key")
		}
		privateKey, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			logger.Plain().WithError(err).Fatal("Failed to parse private key")
		}
	} else {
		privateKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			logger.Plain().WithError(err).Fatal("Failed to generate RSA key")
		}
		logger.Plain().Info("Generated new RSA key pair for JWT signing")
	}

	publicKey = &privateKey.PublicKey
}

// jwksHandler serves the JWKS endpoint
func jwksHandler(w http.ResponseWriter, r *http.Request) {
	jwk := auth.JSONWebKey{
		Kty: "RSA",
		Use: "sig",
		Kid: keyID,
		N:   base64UrlEncode(publicKey.N.Bytes()),
		E:   base64UrlEncode(intToBytes(publicKey.E)),
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300") // Cache for 5 minutes
	_ = json.NewEncoder(w).Encode(auth.JSONWebKeySet{Keys: []auth.JSONWebKey{jwk}})
}

// createTokenHandler mints a development token for an email address
func createTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		TTL   int    `json:"ttl_seconds,omitempty"` // Optional, defaults to 1 hour
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	if err := validate.Var(req.Email, "email"); err != nil {
		http.Error(w, "email is not a valid address", http.StatusBadRequest)
		return
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = 3600
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   issuer,
		"aud":   audience,
		"sub":   req.Email,
		"email": req.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Duration(ttl) * time.Second).Unix(),
	})
	token.Header["kid"] = keyID

	tokenString, err := token.SignedString(privateKey)
	if err != nil {
		http.Error(w, "Failed to sign token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"token":      tokenString,
		"expires_in": ttl,
		"token_type": "Bearer",
	})
}

// healthHandler provides a simple health check endpoint
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func main() {
	cfg := config.FromEnv()
	issuer, audience = cfg.Auth.Issuer, cfg.Auth.Audience

	http.HandleFunc("/.well-known/jwks.json", jwksHandler)
	http.HandleFunc("/token", createTokenHandler)
	http.HandleFunc("/healthz", healthHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}

	logger.Plain().WithFields(map[string]any{
		"port":     port,
		"issuer":   issuer,
		"audience": audience,
	}).Info("JWKS server starting")

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		logger.Plain().WithError(err).Fatal("Server failed to start")
	}
}

// base64UrlEncode encodes without padding
func base64UrlEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// intToBytes converts an integer to a big-endian byte slice
func intToBytes(i int) []byte {
	if i == 0 {
		return []byte{0}
	}

	bytes := make([]byte, 0)
	for i > 0 {
		bytes = append([]byte{byte(i & 0xff)}, bytes...)
		i >>= 8
	}
	return bytes
}
