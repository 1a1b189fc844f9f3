package auth

import (
	"context"
	"fmt"

	fb "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"

	"github.com/shiva/gaadisathi/internal/model"
)

// FirebaseVerifier verifies Firebase ID tokens (email-password and Google
// sign-in both end up here).
type FirebaseVerifier struct {
	client *fbauth.Client
}

// NewFirebaseVerifier creates a verifier from an initialized app.
func NewFirebaseVerifier(ctx context.Context, app *fb.App) (*FirebaseVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

// Verify checks the ID token signature, audience and expiry.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	tok, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", model.ErrNotAuthenticated, err)
	}
	id := Identity{UserID: tok.UID}
	if email, ok := tok.Claims["email"].(string); ok {
		id.Email = email
	}
	return id, nil
}
