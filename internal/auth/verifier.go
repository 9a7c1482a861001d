package auth

import (
	"context"
	"fmt"

	"github.com/austindbirch/harbor_remind/internal/config"
)

// NewVerifier builds the verifier selected by AUTH_MODE. In jwt mode a PEM key
// wins over the JWKS URL.
func NewVerifier(ctx context.Context, cfg config.Auth) (Verifier, error) {
	switch cfg.Mode {
	case "header":
		return HeaderVerifier{Header: cfg.EmailHeader}, nil
	case "jwt", "":
		var (
			v   *JWTValidator
			err error
		)
		switch {
		case cfg.PublicKeyPEM != "":
			v, err = NewJWTValidator(cfg.PublicKeyPEM, cfg.Issuer, cfg.Audience)
		case cfg.JWKSURL != "":
			v, err = NewJWTValidatorFromJWKS(ctx, cfg.JWKSURL, cfg.Issuer, cfg.Audience)
		default:
			return nil, fmt.Errorf("jwt auth requires JWT_PUBLIC_KEY or JWKS_URL")
		}
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}
