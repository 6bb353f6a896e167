// Command ractogw-admin operates a gateway deployment out of band from the
// HTTP surface: validating config and seed files before a rollout, and
// issuing/revoking/listing caller tokens directly against the token store a
// running ractogw process reads from.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ractogw/gateway/auth"
	"github.com/ractogw/gateway/catalog"
	"github.com/ractogw/gateway/internal/gatewayconfig"
	"github.com/ractogw/gateway/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "ractogw-admin",
	Short: "Operate a ractogw gateway deployment out of band",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config <path>",
	Short: "Load and validate a gateway config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := gatewayconfig.LoadConfig(args[0])
		if err != nil {
			return err
		}
		if err := gatewayconfig.ValidateConfig(*cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config OK: listen=%s storage=%s auth=%s\n", cfg.ListenAddr, cfg.Storage.Dialect, cfg.Auth.Dialect)
		return nil
	},
}

var seedCatalogCmd = &cobra.Command{
	Use:   "seed-catalog <path>",
	Short: "Validate a catalog seed file and summarize what it would load",
	Long: "Parses a catalog seed file and reports its model/alias/fallback counts. " +
		"Catalog and account data is held in a running server's process memory, so " +
		"applying a new seed means restarting the server with GATEWAY_CONFIG pointed " +
		"at a config whose catalog_seed_file names this file; this command only checks " +
		"the file is well-formed before that rollout.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seed, err := gatewayconfig.LoadCatalogSeed(args[0])
		if err != nil {
			return err
		}
		cat := catalog.New()
		seed.Apply(cat)
		fmt.Fprintf(cmd.OutOrStdout(), "catalog seed OK: %d models, %d aliases, %d fallback chains\n",
			len(seed.Models), len(seed.Aliases), len(seed.Fallbacks))
		return nil
	},
}

var seedAccountsCmd = &cobra.Command{
	Use:   "seed-accounts <path>",
	Short: "Validate an accounts seed file and summarize what it would load",
	Long: "Parses an accounts seed file and reports how many accounts it defines. " +
		"As with seed-catalog, applying it to a running server happens via that " +
		"server's own GATEWAY_CONFIG, not this command.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seed, err := gatewayconfig.LoadAccountsSeed(args[0])
		if err != nil {
			return err
		}
		accounts := seed.Accounts()
		suspended := 0
		for _, a := range accounts {
			if a.Status == "suspended" {
				suspended++
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "accounts seed OK: %d accounts (%d suspended)\n", len(accounts), suspended)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue, revoke, or list caller tokens",
}

var (
	tokenDialect string
	tokenDSN     string
)

func openTokenStore() (auth.Store, error) {
	switch gatewayconfig.StorageDialect(tokenDialect) {
	case gatewayconfig.DialectPostgres:
		return auth.NewPostgresStore(tokenDSN)
	case gatewayconfig.DialectSQLite:
		return auth.NewSQLiteStore(tokenDSN)
	default:
		return nil, fmt.Errorf("unknown dialect %q: use sqlite or postgres", tokenDialect)
	}
}

var (
	issueAccountID string
	issueName      string
	issueExpiresIn time.Duration
)

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a new token for an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if issueAccountID == "" {
			return fmt.Errorf("--account is required")
		}
		store, err := openTokenStore()
		if err != nil {
			return err
		}
		var expiresAt *time.Time
		if issueExpiresIn > 0 {
			t := time.Now().Add(issueExpiresIn)
			expiresAt = &t
		}
		tok, err := store.Issue(issueAccountID, issueName, expiresAt)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "issued token %s for account %s\nsecret: %s\n", tok.ID, tok.AccountID, tok.Secret)
		return nil
	},
}

var revokeTokenID string

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke a token by id",
	RunE: func(cmd *cobra.Command, args []string) error {
		if revokeTokenID == "" {
			return fmt.Errorf("--id is required")
		}
		store, err := openTokenStore()
		if err != nil {
			return err
		}
		if err := store.Revoke(revokeTokenID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked token %s\n", revokeTokenID)
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tokens (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openTokenStore()
		if err != nil {
			return err
		}
		for _, tok := range store.List() {
			status := "active"
			if tok.RevokedAt != nil {
				status = "revoked"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%s\n", tok.ID, tok.AccountID, tok.Name, tok.Secret, status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, validateConfigCmd, seedCatalogCmd, seedAccountsCmd, tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd, tokenRevokeCmd, tokenListCmd)

	for _, c := range []*cobra.Command{tokenIssueCmd, tokenRevokeCmd, tokenListCmd} {
		c.Flags().StringVar(&tokenDialect, "dialect", "sqlite", "token store dialect: sqlite or postgres")
		c.Flags().StringVar(&tokenDSN, "dsn", "ractogw-tokens.db", "token store DSN (file path for sqlite)")
	}
	tokenIssueCmd.Flags().StringVar(&issueAccountID, "account", "", "account id the token authenticates as")
	tokenIssueCmd.Flags().StringVar(&issueName, "name", "", "human-readable label for the token")
	tokenIssueCmd.Flags().DurationVar(&issueExpiresIn, "expires-in", 0, "token lifetime from now, e.g. 720h (0 = never expires)")
	tokenRevokeCmd.Flags().StringVar(&revokeTokenID, "id", "", "token id to revoke")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
