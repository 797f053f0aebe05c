//go:build windows

package main

import "github.com/sonroyaalmerol/sharesync/internal/netmap"

func platformCredentialStore() netmap.CredentialStore {
	return netmap.NewRegistryCredentialStore()
}
