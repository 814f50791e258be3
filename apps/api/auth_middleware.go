package main

import (
	"context"

	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/tenant-pool/platform/go/auth"
	"github.com/zenGate-Global/tenant-pool/platform/go/gcp"
)

// buildVerifier picks the token verifier for AUTH_PROVIDER. Operators sign in to the
// control-plane Firebase project; tenant projects are never used for operator auth.
func buildVerifier(ctx context.Context, cfg config, logger *zap.Logger) platformauth.VerifyFunc {
	switch cfg.AuthProvider {
	case "firebase":
		_, fbAuth, err := gcp.InitFirebaseAuth(ctx, cfg.FirebaseConfigPath())
		if err != nil {
			logger.Fatal("init firebase auth", zap.Error(err))
		}
		return platformauth.FirebaseTokenVerifier(fbAuth)
	case "dev":
		logger.Warn("using dev auth middleware; do not use in production")
		return platformauth.UnsignedTokenVerifier()
	default:
		logger.Fatal("unsupported auth provider", zap.String("provider", cfg.AuthProvider))
	}
	return nil
}
