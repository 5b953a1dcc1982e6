// README: Token verification; Firebase Admin SDK verifier and the claims-to-identity mapping.
package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"campusride/internal/types"
)

// Claim names carried by ID tokens. Firebase sets them as custom claims.
const (
	ClaimRole           = "role"
	ClaimDriverVerified = "driver_verified"
)

var ErrInvalidClaims = errors.New("token carries no valid role")

// Token holds the verified token data used by downstream middleware.
type Token struct {
	UID    string
	Claims map[string]any
}

// Identity maps the verified token onto the caller identity the engine works with.
func (t *Token) Identity() (types.Identity, error) {
	if t == nil || t.UID == "" {
		return types.Identity{}, ErrInvalidClaims
	}
	raw, _ := t.Claims[ClaimRole].(string)
	role := types.Role(strings.ToUpper(strings.TrimSpace(raw)))
	if !role.Valid() {
		return types.Identity{}, fmt.Errorf("%w: %q", ErrInvalidClaims, raw)
	}
	verified, _ := t.Claims[ClaimDriverVerified].(bool)
	return types.Identity{ID: types.ID(t.UID), Role: role, DriverVerified: verified}, nil
}

// TokenVerifier verifies a raw bearer token and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Token, error)
}

type firebaseVerifier struct {
	client *auth.Client
}

// NewFirebaseVerifier creates a TokenVerifier using the Firebase Admin SDK.
// If credentialsFile is non-empty it is used as the service-account JSON path;
// otherwise application-default credentials are used.
func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (TokenVerifier, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &firebaseVerifier{client: client}, nil
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*Token, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &Token{UID: token.UID, Claims: token.Claims}, nil
}
