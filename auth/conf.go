package auth

import (
	"errors"

	"golang.org/x/oauth2/clientcredentials"
)

// Conf holds the client credentials used against the dispatch API.
type Conf struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURL      string   `json:"auth_url"`
	Scopes       []string `json:"scopes"`
}

// Enabled reports whether credentials were configured.
func (c Conf) Enabled() bool {
	return c.ClientID != "" || c.AuthURL != ""
}

// Validate checks that a configured credential set is complete.
func (c Conf) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.ClientID == "" || c.ClientSecret == "" || c.AuthURL == "" {
		return errors.New("auth: client_id, client_secret and auth_url are required together")
	}
	return nil
}

func (c Conf) toOauth2Config() clientcredentials.Config {
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.AuthURL,
		Scopes:       c.Scopes,
	}
}
