package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ravendevteam/betanet-go/pkg/config"
	"github.com/ravendevteam/betanet-go/pkg/keystore"
)

// ErrIdentityExists is returned by keygen when it would overwrite a key.
var ErrIdentityExists = errors.New("identity already exists (use --force to replace it)")

func newKeygenCommand(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the static identity and print its public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config(cmd, flagBinding{config.KeyIdentityPath, "identity"})
			if err != nil {
				return err
			}
			return runKeygen(cmd, keystore.NewStore(cfg.IdentityPath), force)
		},
	}

	cmd.Flags().String("identity", "", "identity file (default $HOME/.betanet/identity.yaml)")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing identity")
	return cmd
}

func runKeygen(cmd *cobra.Command, store *keystore.Store, force bool) error {
	if !force {
		_, err := store.Load()
		switch {
		case err == nil:
			return fmt.Errorf("%s: %w", store.Path(), ErrIdentityExists)
		case !errors.Is(err, keystore.ErrNotFound):
			return err
		}
	}

	id, err := keystore.Generate()
	if err != nil {
		return err
	}
	if err := store.Save(id); err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Identity written to %s\n", store.Path())
	fmt.Fprintln(cmd.OutOrStdout(), id.PublicKey().String())
	return nil
}
