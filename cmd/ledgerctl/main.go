// Command ledgerctl is an operator tool for a custody-ledger deployment: it
// mints bearer tokens and signs webhook payloads with the configured secrets.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"custody-ledger/config"
	"custody-ledger/internal/core/ports"
	"custody-ledger/internal/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tool for custody-ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml, env CLG_*)")

	load := func() (*config.Config, error) {
		return config.Load(cfgFile)
	}
	root.AddCommand(newTokenCmd(load), newSignCmd(load))
	return root
}

func newTokenCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		userID string
		role   string
		expiry time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user or admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user %q: %w", userID, err)
			}
			r := ports.Role(role)
			if r != ports.RoleUser && r != ports.RoleAdmin {
				return fmt.Errorf("invalid --role %q: must be user or admin", role)
			}

			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("jwt.secret is not configured")
			}
			if expiry <= 0 {
				expiry = cfg.JWT.Expiry
			}

			token, exp, err := service.NewJWTTokenService(cfg.JWT.Secret, expiry, cfg.JWT.Issuer).Generate(id, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (uuid)")
	cmd.Flags().StringVar(&role, "role", string(ports.RoleUser), "user|admin")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "token lifetime (default jwt.expiry)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSignCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "sign [file]",
		Short: "Print the webhook signature of a payload read from file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				body []byte
				err  error
			)
			if len(args) == 1 {
				body, err = os.ReadFile(args[0])
			} else {
				body, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Webhook.Secret == "" {
				return fmt.Errorf("webhook.secret is not configured")
			}
			sig := service.NewHMACSignatureService().Sign(cfg.Webhook.Secret, body)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", cfg.Webhook.SignatureHeader, sig)
			return nil
		},
	}
}
