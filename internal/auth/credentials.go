// Package auth resolves the storefront API credentials. The secret is
// read from the OS keyring first, then from the environment; a run
// without credentials is a configuration error and never starts.
package auth

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "dealhound"

	envAPIKey    = "DEALHOUND_API_KEY"
	envAPISecret = "DEALHOUND_API_SECRET"
)

// ErrMissingCredentials marks an unrecoverable startup condition.
var ErrMissingCredentials = errors.New("storefront API credentials not found")

// Credentials authenticate calls to the storefront API.
type Credentials struct {
	Key    string
	Secret string
}

// Resolve loads credentials for the given account. Keyring entries are
// keyed "<account>/key" and "<account>/secret"; the DEALHOUND_API_KEY
// and DEALHOUND_API_SECRET environment variables act as a fallback for
// environments without a keyring.
func Resolve(account string) (Credentials, error) {
	creds, err := fromKeyring(account)
	if err == nil {
		log.Debug().Str("account", account).Msg("Credentials loaded from keyring")
		return creds, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		log.Warn().Err(err).Msg("Keyring unavailable, falling back to environment")
	}

	key, secret := os.Getenv(envAPIKey), os.Getenv(envAPISecret)
	if key == "" || secret == "" {
		return Credentials{}, fmt.Errorf("%w: set them with `dealhound login` or export %s/%s",
			ErrMissingCredentials, envAPIKey, envAPISecret)
	}
	log.Debug().Msg("Credentials loaded from environment")
	return Credentials{Key: key, Secret: secret}, nil
}

// Store writes credentials for account into the OS keyring.
func Store(account string, creds Credentials) error {
	if creds.Key == "" || creds.Secret == "" {
		return fmt.Errorf("key and secret are both required")
	}
	if err := keyring.Set(keyringService, account+"/key", creds.Key); err != nil {
		return fmt.Errorf("store API key: %w", err)
	}
	if err := keyring.Set(keyringService, account+"/secret", creds.Secret); err != nil {
		return fmt.Errorf("store API secret: %w", err)
	}
	return nil
}

// Delete removes the stored credentials for account. Missing entries
// are not an error.
func Delete(account string) error {
	for _, item := range []string{account + "/key", account + "/secret"} {
		if err := keyring.Delete(keyringService, item); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("delete %s: %w", item, err)
		}
	}
	return nil
}

func fromKeyring(account string) (Credentials, error) {
	key, err := keyring.Get(keyringService, account+"/key")
	if err != nil {
		return Credentials{}, err
	}
	secret, err := keyring.Get(keyringService, account+"/secret")
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Key: key, Secret: secret}, nil
}
