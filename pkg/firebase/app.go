// Package firebase initializes the Firebase Admin SDK app shared by the
// Firestore store and the ID-token verifier.
package firebase

import (
	"context"
	"fmt"

	fb "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/shiva/gaadisathi/config"
)

// NewApp creates a Firebase app for cfg.ProjectID. When CredentialsFile is
// empty, application default credentials are used.
func NewApp(ctx context.Context, cfg config.FirebaseConfig) (*fb.App, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := fb.NewApp(ctx, &fb.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase: init app: %w", err)
	}
	return app, nil
}
