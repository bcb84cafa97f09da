package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cryptofx/api_gateway/internal/keystore"
	"cryptofx/api_gateway/internal/plans"
	"cryptofx/pkg/database"

	"github.com/spf13/cobra"
)

const commandTimeout = 15 * time.Second

// openKeyStore connects to the Postgres key store. Tests replace it.
var openKeyStore = func(ctx context.Context) (keystore.KeyStore, func(), error) {
	cfg := database.ConfigFromEnv()
	if databaseURL != "" {
		cfg.URL = databaseURL
	}
	if cfg.URL == "" {
		return nil, nil, errors.New("database URL is required: pass --database-url or set DATABASE_URL")
	}
	cfg.MaxOpenConns = 2

	logger := newLogger()
	db, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	store := keystore.NewPostgresStore(db, logger, nil)
	if err := store.Migrate(ctx, false); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, func() { _ = db.Close() }, nil
}

func withKeyStore(fn func(ctx context.Context, store keystore.KeyStore) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	store, closeFn, err := openKeyStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, store)
}

func newKeysCmd() *cobra.Command {
	keys := &cobra.Command{Use: "keys", Short: "Manage API keys"}
	keys.AddCommand(newKeysCreateCmd())
	keys.AddCommand(newKeysListCmd())
	keys.AddCommand(newKeysInfoCmd())
	keys.AddCommand(newKeysDeactivateCmd())
	return keys
}

func newKeysCreateCmd() *cobra.Command {
	var subject, plan string
	cmd := &cobra.Command{Use: "create", Short: "Create an API key for a subject", RunE: func(cmd *cobra.Command, args []string) error {
		subject = strings.TrimSpace(subject)
		if subject == "" {
			return errors.New("--subject is required")
		}
		registry, err := plans.NewRegistry(plans.ApplyEnvOverrides(plans.DefaultPlans()))
		if err != nil {
			return err
		}
		if !registry.Known(plan) {
			return fmt.Errorf("unknown plan %q", plan)
		}
		tier := registry.Lookup(plan).Tier

		return withKeyStore(func(ctx context.Context, store keystore.KeyStore) error {
			cred, err := store.Create(ctx, subject, string(tier))
			if err != nil {
				return err
			}
			return render(cmd, cred, func(w io.Writer) {
				fmt.Fprintf(w, "Created %s key for %s\n", cred.PlanTier, cred.SubjectID)
				fmt.Fprintf(w, "Key: %s\n", cred.Key)
				fmt.Fprintln(w, "Store this key now; it is shown only once.")
			})
		})
	}}
	cmd.Flags().StringVar(&subject, "subject", "", "subject (user) id the key belongs to")
	cmd.Flags().StringVar(&plan, "plan", string(plans.TierFree), "plan tier: free|basic|pro|ultra")
	return cmd
}

func newKeysListCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{Use: "list", Short: "List API keys for a subject", RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(subject) == "" {
			return errors.New("--subject is required")
		}
		return withKeyStore(func(ctx context.Context, store keystore.KeyStore) error {
			creds, err := store.ListBySubject(ctx, subject)
			if err != nil {
				return err
			}
			masked := make([]keystore.Credential, len(creds))
			for i, c := range creds {
				c.Key = keystore.Masked(c.Key)
				masked[i] = c
			}
			return render(cmd, masked, func(w io.Writer) {
				fmt.Fprintf(w, "Keys for %s (%d)\n", subject, len(masked))
				for _, c := range masked {
					fmt.Fprintf(w, " - %s plan=%s active=%t uses=%d\n", c.Key, c.PlanTier, c.Active, c.UsageCount)
				}
			})
		})
	}}
	cmd.Flags().StringVar(&subject, "subject", "", "subject (user) id")
	return cmd
}

func newKeysInfoCmd() *cobra.Command {
	return &cobra.Command{Use: "info <key>", Short: "Show an API key's record", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		return withKeyStore(func(ctx context.Context, store keystore.KeyStore) error {
			cred, err := store.Lookup(ctx, args[0])
			if errors.Is(err, keystore.ErrNotFound) {
				return fmt.Errorf("key %s not found", keystore.Masked(args[0]))
			}
			if err != nil {
				return err
			}
			cred.Key = keystore.Masked(cred.Key)
			return render(cmd, cred, func(w io.Writer) {
				fmt.Fprintf(w, "Key:      %s\n", cred.Key)
				fmt.Fprintf(w, "Subject:  %s\n", cred.SubjectID)
				fmt.Fprintf(w, "Plan:     %s\n", cred.PlanTier)
				fmt.Fprintf(w, "Active:   %t\n", cred.Active)
				fmt.Fprintf(w, "Uses:     %d\n", cred.UsageCount)
				fmt.Fprintf(w, "Created:  %s\n", cred.CreatedAt.UTC().Format(time.RFC3339))
				if cred.LastUsedAt != nil {
					fmt.Fprintf(w, "Last use: %s\n", cred.LastUsedAt.UTC().Format(time.RFC3339))
				}
			})
		})
	}}
}

func newKeysDeactivateCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{Use: "deactivate <key>", Short: "Deactivate an API key", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if !promptConfirm(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("Deactivate key %s?", keystore.Masked(key)), yes) {
			return errors.New("aborted")
		}
		return withKeyStore(func(ctx context.Context, store keystore.KeyStore) error {
			err := store.Deactivate(ctx, key)
			if errors.Is(err, keystore.ErrNotFound) {
				return fmt.Errorf("key %s not found", keystore.Masked(key))
			}
			if err != nil {
				return err
			}
			result := map[string]any{"key": keystore.Masked(key), "active": false}
			return render(cmd, result, func(w io.Writer) {
				fmt.Fprintf(w, "Deactivated %s\n", keystore.Masked(key))
			})
		})
	}}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}
