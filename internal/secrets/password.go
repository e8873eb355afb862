package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"

	"prospect-engine/internal/config"
)

const (
	// KeyringService groups the engine's secrets in the OS keychain.
	KeyringService = "prospect-engine"
)

var ErrNotFound = errors.New("secret not found in keychain")

func Get(account string) (string, error) {
	if strings.TrimSpace(account) == "" {
		return "", errors.New("keyring account name is empty")
	}
	v, err := keyring.Get(KeyringService, account)
	if errors.Is(err, keyring.ErrNotFound) || (err == nil && strings.TrimSpace(v) == "") {
		return "", fmt.Errorf("%s: %w", account, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("keychain %s: %w", account, err)
	}
	return v, nil
}

func Set(account, value string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	if strings.TrimSpace(value) == "" {
		return errors.New("secret is empty")
	}
	return keyring.Set(KeyringService, account, value)
}

func Delete(account string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	err := keyring.Delete(KeyringService, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// IMAPKeyringAccount is the account holding the reply mailbox password.
func IMAPKeyringAccount(cfg config.EmailConfig) string {
	if a := strings.TrimSpace(cfg.KeyringAccount); a != "" {
		return a
	}
	return fmt.Sprintf("prospect:imap:%s@%s", cfg.Username, cfg.IMAPAddr)
}

// WebhookKeyringAccount is the account holding a channel webhook's bearer
// token.
func WebhookKeyringAccount(channel string, wh config.WebhookConfig) string {
	if a := strings.TrimSpace(wh.KeyringAccount); a != "" {
		return a
	}
	return "prospect:webhook:" + channel
}
