package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

// EmailKey stores the verified requester email in a request context
const EmailKey contextKey = "requester_email"

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidFormat      = errors.New("invalid Authorization header format")
)

// Verifier resolves the identity of the caller behind an HTTP request
type Verifier interface {
	Verify(r *http.Request) (string, error)
}

// JWTValidator handles RS256 token validation
type JWTValidator struct {
	keys       map[string]*rsa.PublicKey // by kid
	defaultKey *rsa.PublicKey
	issuer     string
	audience   string
}

// NewJWTValidator creates a validator from a PEM encoded RSA public key
func NewJWTValidator(publicKeyPEM, issuer, audience string) (*JWTValidator, error) {
	publicKey, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return &JWTValidator{
		keys:       map[string]*rsa.PublicKey{},
		defaultKey: publicKey,
		issuer:     issuer,
		audience:   audience,
	}, nil
}

// NewJWTValidatorFromJWKS fetches a key set once and validates tokens by their kid
func NewJWTValidatorFromJWKS(ctx context.Context, jwksURL, issuer, audience string) (*JWTValidator, error) {
	jwks, err := FetchJWKS(ctx, jwksURL)
	if err != nil {
		return nil, err
	}

	v := &JWTValidator{keys: map[string]*rsa.PublicKey{}, issuer: issuer, audience: audience}
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := k.RSAPublicKey()
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k.Kid, err)
		}
		v.keys[k.Kid] = pub
		if v.defaultKey == nil {
			v.defaultKey = pub
		}
	}
	if v.defaultKey == nil {
		return nil, fmt.Errorf("no RSA keys found in JWKS")
	}
	return v, nil
}

// ParsePublicKeyPEM accepts PKCS1 and PKIX encodings
func ParsePublicKeyPEM(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err == nil {
		return publicKey, nil
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %v", err)
	}
	publicKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return publicKey, nil
}

func (v *JWTValidator) keyFor(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	if kid, ok := token.Header["kid"].(string); ok && kid != "" {
		if key, ok := v.keys[kid]; ok {
			return key, nil
		}
		if len(v.keys) > 0 {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
	}
	return v.defaultKey, nil
}

// ValidateToken validates a JWT token and returns the email claim
func (v *JWTValidator) ValidateToken(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFor, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	email, ok := claims["email"].(string)
	email = strings.TrimSpace(email)
	if !ok || email == "" {
		return "", fmt.Errorf("missing or invalid email claim")
	}
	return email, nil
}

// Verify implements Verifier using a Bearer token
func (v *JWTValidator) Verify(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingCredentials
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return "", ErrInvalidFormat
	}
	return v.ValidateToken(tokenString)
}

const healthServicePrefix = "/grpc.health.v1.Health/"

// GRPCInterceptor returns a gRPC unary interceptor that validates JWT tokens.
// Only the standard health service is exempt, so probes work without a token.
func (v *JWTValidator) GRPCInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "missing metadata")
		}
		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			return nil, status.Errorf(codes.Unauthenticated, "missing authorization header")
		}
		tokenString := strings.TrimPrefix(authHeaders[0], "Bearer ")
		if tokenString == authHeaders[0] {
			return nil, status.Errorf(codes.Unauthenticated, "invalid authorization header format")
		}

		email, err := v.ValidateToken(tokenString)
		if err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
		}
		return handler(WithEmail(ctx, email), req)
	}
}

// HeaderVerifier trusts an identity header set by an upstream gateway
type HeaderVerifier struct {
	Header string
}

func (h HeaderVerifier) Verify(r *http.Request) (string, error) {
	name := h.Header
	if name == "" {
		name = "X-User-Email"
	}
	email := strings.TrimSpace(r.Header.Get(name))
	if email == "" {
		return "", ErrMissingCredentials
	}
	return email, nil
}

// publicPaths never require credentials
var publicPaths = map[string]bool{
	"/healthz": true,
	"/health":  true,
	"/metrics": true,
}

// HTTPMiddleware rejects requests the verifier cannot identify with 401
func HTTPMiddleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			email, err := v.Verify(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf("unauthorized: %v", err)})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithEmail(r.Context(), email)))
		})
	}
}

func WithEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, EmailKey, email)
}

// EmailFromContext extracts the verified requester email
func EmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(EmailKey).(string)
	return email, ok && email != ""
}

// JSONWebKeySet represents a JWKS response
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// JSONWebKey represents a single key in JWKS
type JSONWebKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// RSAPublicKey decodes the base64url modulus and exponent
func (k JSONWebKey) RSAPublicKey() (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	if len(nb) == 0 || len(eb) == 0 {
		return nil, fmt.Errorf("empty modulus or exponent")
	}
	e := new(big.Int).SetBytes(eb)
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(e.Int64())}, nil
}

var jwksClient = &http.Client{Timeout: 10 * time.Second}

// FetchJWKS fetches a key set from a URL
func FetchJWKS(ctx context.Context, jwksURL string) (*JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWKS request: %v", err)
	}
	resp, err := jwksClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %v", err)
	}
	if len(jwks.Keys) == 0 {
		return nil, fmt.Errorf("no keys found in JWKS")
	}
	return &jwks, nil
}
