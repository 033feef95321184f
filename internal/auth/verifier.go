package auth

import (
	"context"
	"log/slog"
)

// SignatureVerifier checks that signature was produced by the key behind wallet
type SignatureVerifier interface {
	Verify(ctx context.Context, wallet, signature string) error
}

// RejectUnverified is the default verifier. Wallet signature checking is not
// implemented, so every wallet login is refused with ErrSignatureUnverified.
type RejectUnverified struct{}

func (RejectUnverified) Verify(ctx context.Context, wallet, signature string) error {
	return ErrSignatureUnverified
}

// TrustUnverified accepts any signature. It is an explicit trust gap, enabled
// only by configuration, and every acceptance is logged.
type TrustUnverified struct {
	Logger *slog.Logger
}

func (v TrustUnverified) Verify(ctx context.Context, wallet, signature string) error {
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "accepting unverified wallet signature", "wallet", wallet)
	return nil
}
