package broker

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"

	"github.com/veilbox/veil/internal/config"
)

// vaultTokens supplies the bearer token for the remote vault. The
// token comes from VEIL_VAULT_TOKEN or, failing that, a 0600 token
// file next to the descriptor. Deliberately not a secret managed by
// the broker itself: the vault credential bootstraps the broker.
func vaultTokens() oauth2.TokenSource {
	return tokenFunc(func() (*oauth2.Token, error) {
		if tok := os.Getenv("VEIL_VAULT_TOKEN"); tok != "" {
			return &oauth2.Token{AccessToken: tok}, nil
		}

		path := filepath.Join(config.Dir(), "vault-token")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.New("no vault token (set VEIL_VAULT_TOKEN or write " + path + ")")
		}
		tok := strings.TrimSpace(string(data))
		if tok == "" {
			return nil, errors.New("vault token file is empty: " + path)
		}
		return &oauth2.Token{AccessToken: tok}, nil
	})
}

// tokenFunc adapts a func to oauth2.TokenSource.
type tokenFunc func() (*oauth2.Token, error)

func (f tokenFunc) Token() (*oauth2.Token, error) {
	return f()
}
