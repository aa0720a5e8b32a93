package google

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// StaticTokenProvider serves one OAuth credential for every user, the
// single-tenant deployment shape. The refresh token is exchanged for access
// tokens on demand; oauth2 caches them until expiry.
type StaticTokenProvider struct {
	config       oauth2.Config
	refreshToken string
}

// NewStaticTokenProvider builds a provider from client credentials and a
// long-lived refresh token.
func NewStaticTokenProvider(clientID, clientSecret, refreshToken string) *StaticTokenProvider {
	return &StaticTokenProvider{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
			Scopes: []string{"https://www.googleapis.com/auth/calendar"},
		},
		refreshToken: refreshToken,
	}
}

// TokenSource returns a refreshing token source for the user.
func (p *StaticTokenProvider) TokenSource(ctx context.Context, _ uuid.UUID) (oauth2.TokenSource, error) {
	return p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: p.refreshToken}), nil
}
