package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sonroyaalmerol/sharesync/internal/netmap"
)

var errNoCredentialStore = errors.New("no credential store available on this platform")

func credentialCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage the stored service credential for drive mappings",
	}
	cmd.AddCommand(credentialSetCommand(), credentialClearCommand())
	return cmd
}

func credentialSetCommand() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the mapping credential, encrypted for this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := platformCredentialStore()
			if store == nil {
				return errNoCredentialStore
			}

			fmt.Print("Password: ")
			secret, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("credential set: error reading password -> %w", err)
			}

			cred := netmap.NewCredential(username, string(secret))
			defer cred.Clear()
			for i := range secret {
				secret[i] = 0
			}

			if err := store.Save(cred); err != nil {
				return err
			}
			fmt.Println("Credential stored")
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account name, e.g. DOMAIN\\user")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func credentialClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored mapping credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := platformCredentialStore()
			if store == nil {
				return errNoCredentialStore
			}
			if err := store.Delete(); err != nil {
				return err
			}
			fmt.Println("Credential cleared")
			return nil
		},
	}
}
