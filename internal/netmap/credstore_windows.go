//go:build windows

package netmap

import (
	"fmt"

	"github.com/billgraziano/dpapi"
	"golang.org/x/sys/windows/registry"
)

const (
	regPath        = `SOFTWARE\ShareSync`
	regKeyUsername = "CredentialUser"
	regKeySecret   = "CredentialSecret"
)

// RegistryCredentialStore keeps the service credential under HKLM, with the
// secret DPAPI-encrypted so only this machine can recover it.
type RegistryCredentialStore struct{}

func NewRegistryCredentialStore() *RegistryCredentialStore {
	return &RegistryCredentialStore{}
}

func (s *RegistryCredentialStore) Save(cred *Credential) error {
	baseKey, err := registry.OpenKey(registry.LOCAL_MACHINE, regPath, registry.SET_VALUE)
	if err != nil {
		baseKey, _, err = registry.CreateKey(registry.LOCAL_MACHINE, regPath, registry.SET_VALUE)
		if err != nil {
			return fmt.Errorf("Save: error creating registry key -> %w", err)
		}
	}
	defer baseKey.Close()

	encrypted, err := dpapi.Encrypt(cred.Secret())
	if err != nil {
		return fmt.Errorf("Save: error encrypting secret -> %w", err)
	}

	if err := baseKey.SetStringValue(regKeyUsername, cred.Username); err != nil {
		return fmt.Errorf("Save: error setting username -> %w", err)
	}
	if err := baseKey.SetStringValue(regKeySecret, encrypted); err != nil {
		return fmt.Errorf("Save: error setting secret -> %w", err)
	}

	return nil
}

func (s *RegistryCredentialStore) Load() (*Credential, error) {
	baseKey, err := registry.OpenKey(registry.LOCAL_MACHINE, regPath, registry.QUERY_VALUE)
	if err != nil {
		if err == registry.ErrNotExist {
			return nil, nil
		}
		return nil, fmt.Errorf("Load: error opening registry key -> %w", err)
	}
	defer baseKey.Close()

	username, _, err := baseKey.GetStringValue(regKeyUsername)
	if err != nil {
		if err == registry.ErrNotExist {
			return nil, nil
		}
		return nil, fmt.Errorf("Load: error reading username -> %w", err)
	}

	encrypted, _, err := baseKey.GetStringValue(regKeySecret)
	if err != nil {
		return nil, fmt.Errorf("Load: %w -> %v", ErrCredentialFormat, err)
	}

	secret, err := dpapi.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("Load: error decrypting secret -> %w", err)
	}

	return NewCredential(username, secret), nil
}

func (s *RegistryCredentialStore) Delete() error {
	baseKey, err := registry.OpenKey(registry.LOCAL_MACHINE, regPath, registry.SET_VALUE)
	if err != nil {
		if err == registry.ErrNotExist {
			return nil
		}
		return fmt.Errorf("Delete: error opening registry key -> %w", err)
	}
	defer baseKey.Close()

	for _, key := range []string{regKeyUsername, regKeySecret} {
		if err := baseKey.DeleteValue(key); err != nil && err != registry.ErrNotExist {
			return fmt.Errorf("Delete: error deleting %s -> %w", key, err)
		}
	}

	return nil
}
