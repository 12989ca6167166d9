package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iliyamo/experience-booking/internal/secrets"
)

func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage encrypted secrets",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "keygen",
		Short: "Print a new master key for SECRETS_MASTER_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := secrets.NewKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), k)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a value read from stdin with SECRETS_MASTER_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secrets.ParseKey(os.Getenv("SECRETS_MASTER_KEY"))
			if err != nil {
				return err
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read value: %w", err)
			}
			enc, err := secrets.Encrypt(key, strings.TrimRight(line, "\r\n"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), enc)
			return nil
		},
	})
	return cmd
}
