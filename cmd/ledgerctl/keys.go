package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/aikewa/govledger/internal/federation"
	"github.com/aikewa/govledger/internal/signing"
)

func init() {
	rootCmd.AddCommand(keygenCmd, hashKeyCmd, migrateCmd)
}

// ── keygen ───────────────────────────────────────────────────────────────────

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 ledger signing key pair",
	Long: `keygen writes a PKCS#8 private key to signing.ed25519_key_file and the
matching public key to signing.ed25519_public_file. Existing files are not
overwritten.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		priv, pub := cfg.Signing.Ed25519KeyFile, cfg.Signing.Ed25519PublicFile
		if err := signing.GenerateEd25519(priv, pub); err != nil {
			return err
		}
		fmt.Printf("✓ Key pair written\n\n  Private: %s\n  Public:  %s\n\n", priv, pub)
		fmt.Println("Set signing.mode: ed25519 to sign new entries.")
		return nil
	},
}

// ── hash-key ─────────────────────────────────────────────────────────────────

var hashKeyCost int

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key <api-key>",
	Short: "Hash a partner registration API key for federation.api_key_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args[0]) < 16 {
			return errors.New("api key must be at least 16 characters")
		}
		h, err := bcrypt.GenerateFromPassword([]byte(args[0]), hashKeyCost)
		if err != nil {
			return err
		}
		fmt.Println(string(h))
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().IntVar(&hashKeyCost, "cost", bcrypt.DefaultCost, "bcrypt cost")
}

// ── migrate ──────────────────────────────────────────────────────────────────

var migrateDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the partner registry schema to federation.database_url",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Federation.DatabaseURL == "" {
			return errors.New("federation.database_url is not set")
		}

		ctx := context.Background()
		db, err := pgxpool.New(ctx, cfg.Federation.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer db.Close()
		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}

		n, err := federation.Migrate(ctx, db, migrateDir, logger)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Println("nothing to migrate, already up to date")
		} else {
			fmt.Printf("applied %d migration(s)\n", n)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDir, "dir", "migrations", "directory holding *.up.sql files")
}
