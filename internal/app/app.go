// Package app assembles the ledgers and services shared by the server and
// the operator CLI from a loaded Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/config"
	"github.com/aikewa/govledger/internal/consent"
	"github.com/aikewa/govledger/internal/eii"
	"github.com/aikewa/govledger/internal/federation"
	"github.com/aikewa/govledger/internal/integrity"
	"github.com/aikewa/govledger/internal/ledger"
	"github.com/aikewa/govledger/internal/signing"
	"github.com/aikewa/govledger/internal/trustproof"
)

// App holds every wired component. Proofs is nil when no trust secret is
// configured.
type App struct {
	Config     *config.Config
	Ledgers    *ledger.Set
	Verifier   *integrity.Verifier
	Repairs    *integrity.RepairManager
	Engine     *integrity.Engine
	Proofs     *trustproof.Service
	Federation *federation.Service
	Consent    *consent.Service
	EII        *eii.Aggregator

	db     *pgxpool.Pool
	logger *zap.Logger
}

// Open wires the components described by cfg. Close releases the database
// pool when one was opened.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	signer, verifier, err := Signing(cfg.Signing, logger)
	if err != nil {
		return nil, err
	}

	// ── Ledgers ──────────────────────────────────────────────────────────────
	a.Ledgers = ledger.OpenFileSet(cfg.Ledger.RootDir, ledger.FileOptions{
		Signer:      signer,
		DisableLock: !cfg.Ledger.Lock,
	}, logger)
	a.Verifier = integrity.NewVerifier(integrity.Options{
		SignatureVerifier: verifier,
		RequireSignatures: cfg.Signing.RequireSignatures,
	}, logger)
	a.Repairs = integrity.NewRepairManager(a.Ledgers.Store(ledger.Governance), logger)

	// ── Trust proofs ─────────────────────────────────────────────────────────
	var auditor integrity.ProofAuditor
	if cfg.Trust.Secret != "" {
		a.Proofs, err = trustproof.NewService(trustproof.Config{
			Secret:          []byte(cfg.Trust.Secret),
			Issuer:          cfg.Trust.Issuer,
			Validity:        cfg.TrustValidity(),
			GovernanceBlock: cfg.Trust.GovernanceBlock,
			ComplianceStage: cfg.Trust.ComplianceStage,
			BaseURL:         cfg.Trust.BaseURL,
			ArtifactRoot:    cfg.Ledger.RootDir,
		},
			trustproof.NewFileStore(cfg.Ledger.RootDir, logger),
			a.Ledgers.Store(ledger.TrustProofs),
			a.Ledgers.Store(ledger.Governance),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("trust proofs: %w", err)
		}
		auditor = a.Proofs
	} else {
		logger.Warn("trust.secret is not set; trust proof issuance and verification are disabled")
	}

	a.Engine = integrity.NewEngine(a.Ledgers, a.Verifier, a.Repairs, auditor,
		integrity.EngineConfig{DocumentRoot: cfg.Ledger.RootDir}, logger)

	// ── Federation ───────────────────────────────────────────────────────────
	var registry federation.Registry
	if cfg.Federation.DatabaseURL != "" {
		a.db, err = pgxpool.New(ctx, cfg.Federation.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := a.db.Ping(ctx); err != nil {
			a.db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		registry = federation.NewPostgresRegistry(a.db, logger)
		logger.Info("federation registry: postgres")
	} else {
		path := cfg.Federation.RegistryFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Ledger.RootDir, path)
		}
		registry = federation.NewFileRegistry(path, logger)
		logger.Info("federation registry: file", zap.String("path", path))
	}
	a.Federation = federation.NewService(registry, a.Ledgers.Store(ledger.Federation), logger)

	a.Consent = consent.NewService(a.Ledgers.Store(ledger.Consent), logger)
	a.EII = eii.NewAggregator(a.Ledgers.Store(ledger.Governance), logger)
	return a, nil
}

// FederationClient builds the partner polling client from config.
func (a *App) FederationClient() *federation.Client {
	return federation.NewClient(a.Config.Federation.RequestTimeout, a.Config.Federation.RequestInterval)
}

// DB returns the postgres pool, or nil when the file registry is in use.
func (a *App) DB() *pgxpool.Pool { return a.db }

// Close releases held resources.
func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// Signing resolves the configured signer and verifier. A key that cannot
// be loaded downgrades to unsigned appends rather than failing startup.
func Signing(cfg config.SigningConfig, logger *zap.Logger) (ledger.Signer, signing.Verifier, error) {
	switch cfg.Mode {
	case config.SigningNone, "":
		return nil, nil, nil
	case config.SigningEd25519:
		var (
			signer   ledger.Signer
			verifier signing.Verifier
		)
		if s, err := signing.LoadEd25519Signer(cfg.Ed25519KeyFile); err != nil {
			logger.Warn("ed25519 signing key unavailable; entries will be unsigned",
				zap.String("path", cfg.Ed25519KeyFile), zap.Error(err))
		} else {
			signer = s
			verifier = s.Public()
		}
		if verifier == nil {
			v, err := signing.LoadEd25519Verifier(cfg.Ed25519PublicFile)
			if err != nil {
				logger.Warn("ed25519 public key unavailable; signatures will not be checked",
					zap.String("path", cfg.Ed25519PublicFile), zap.Error(err))
			} else {
				verifier = v
			}
		}
		return signer, verifier, nil
	case config.SigningGPG:
		var signer ledger.Signer
		if cfg.GPGKeyID != "" {
			signer = signing.NewGPGSigner(cfg.GPGBinary, cfg.GPGKeyID, cfg.Timeout)
		}
		return signer, signing.NewGPGVerifier(cfg.GPGBinary, cfg.Timeout), nil
	}
	return nil, nil, errors.New("unknown signing mode " + cfg.Mode)
}
