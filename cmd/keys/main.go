// Command keys manages the access key file used by the API server.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/subextract/internal/cli"
	"github.com/therealutkarshpriyadarshi/subextract/internal/config"
	"github.com/therealutkarshpriyadarshi/subextract/internal/keys"
	"github.com/therealutkarshpriyadarshi/subextract/internal/middleware"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	keyFile    string
}

// settings reads the config file when present. A missing file is not an
// error so the tool works before the server is configured.
func (o *options) settings() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		if _, statErr := os.Stat(o.configPath); errors.Is(statErr, os.ErrNotExist) {
			cfg = config.Default()
		} else {
			return nil, err
		}
	}
	if o.keyFile != "" {
		cfg.Auth.KeyFile = o.keyFile
	}
	return cfg, nil
}

func (o *options) load() (*keys.File, error) {
	cfg, err := o.settings()
	if err != nil {
		return nil, err
	}
	return keys.Load(cfg.Auth.KeyFile)
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "keys",
		Short:        "Manage API access keys",
		SilenceUsage: true,
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfig, "path to the configuration file")
	root.PersistentFlags().StringVarP(&opts.keyFile, "file", "f", "", "key file (overrides auth.keyFile)")

	root.AddCommand(newAddCommand(opts))
	root.AddCommand(newRevokeCommand(opts))
	root.AddCommand(newListCommand(opts))
	root.AddCommand(newTokenCommand(opts))

	return root
}

func newAddCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "add [COMMENT]",
		Short: "Generate a new access key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := opts.load()
			if err != nil {
				return err
			}
			comment := ""
			if len(args) == 1 {
				comment = args[0]
			}
			key, err := file.Add(comment)
			if err != nil {
				return err
			}
			if err := file.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added key %s: %s\n", key.ID, key.Key)
			return nil
		},
	}
}

func newRevokeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke ID...",
		Short: "Revoke access keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := opts.load()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := file.Revoke(id); err != nil {
					return err
				}
			}
			if err := file.Save(); err != nil {
				return err
			}
			for _, id := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "Key %s revoked\n", id)
			}
			return nil
		},
	}
}

func newListCommand(opts *options) *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List access keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := opts.load()
			if err != nil {
				return err
			}
			list := file.List()
			if len(list) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No keys in %s\n", file.Path())
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, k := range list {
				secret := mask(k.Key)
				if showSecrets {
					secret = k.Key
				}
				status := "active"
				if k.Revoked {
					status = "revoked"
				}
				rows = append(rows, []string{k.ID, secret, status, k.Comment})
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable(
				[]string{"ID", "Key", "Status", "Comment"}, rows,
				[]cli.ColumnAlignment{cli.AlignRight},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show", false, "print full keys")
	return cmd
}

func newTokenCommand(opts *options) *cobra.Command {
	var (
		secret    string
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token ID",
		Short: "Issue a bearer token for an access key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.settings()
			if err != nil {
				return err
			}
			if secret == "" {
				secret = cfg.Auth.JWTSecret
			}
			if secret == "" {
				return errors.New("no signing secret: set auth.jwtSecret or pass --secret")
			}

			file, err := keys.Load(cfg.Auth.KeyFile)
			if err != nil {
				return err
			}
			id := args[0]
			if err := file.ValidateID(id); err != nil {
				return fmt.Errorf("key %s: %w", id, err)
			}

			comment := ""
			for _, k := range file.List() {
				if k.ID == id {
					comment = k.Comment
				}
			}

			middleware.SetJWTSecret(secret)
			token, err := middleware.GenerateToken(id, comment, expiresIn)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to auth.jwtSecret)")
	cmd.Flags().DurationVar(&expiresIn, "expires", 30*24*time.Hour, "token lifetime")
	return cmd
}

func mask(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "…"
}
