package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const tokenAccount = "api_token"

// Keychain is the read/write secret-store interface used for the local API
// bearer token.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return platformKeychain{}
}

type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the bearer token protecting the local management API,
// generating and persisting one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if token, err := kc.Get(secretService, tokenAccount); err == nil && token != "" {
		return token, nil
	}
	token := uuid.NewString()
	if err := kc.Set(secretService, tokenAccount, token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return token, nil
}
