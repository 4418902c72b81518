package tokenmgr

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
)

// ClientCredentialsRefresher implements Refresher against each provider's
// OAuth2 client-credentials token endpoint.
type ClientCredentialsRefresher struct {
	configs map[domain.ProviderType]clientcredentials.Config
}

// ProviderOAuthConfig is the per-provider client-credentials config the
// composition root assembles from internal/config.OAuthClient.
type ProviderOAuthConfig struct {
	Provider     domain.ProviderType
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// NewClientCredentialsRefresher builds a Refresher over one
// clientcredentials.Config per configured provider.
func NewClientCredentialsRefresher(configs []ProviderOAuthConfig) *ClientCredentialsRefresher {
	byProvider := make(map[domain.ProviderType]clientcredentials.Config, len(configs))
	for _, c := range configs {
		byProvider[c.Provider] = clientcredentials.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			TokenURL:     c.TokenURL,
			Scopes:       c.Scopes,
		}
	}
	return &ClientCredentialsRefresher{configs: byProvider}
}

// Refresh exchanges the client's credentials for a fresh token, ignoring
// current since client-credentials grants don't carry a refresh token.
func (r *ClientCredentialsRefresher) Refresh(ctx context.Context, provider domain.ProviderType, current *oauth2.Token) (*oauth2.Token, error) {
	cfg, ok := r.configs[provider]
	if !ok {
		return nil, errs.New(errs.ProviderUnavailable, fmt.Sprintf("no oauth client configured for %s", provider), false, nil)
	}
	return cfg.Token(ctx)
}
