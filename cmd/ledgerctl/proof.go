package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aikewa/govledger/internal/app"
	"github.com/aikewa/govledger/internal/trustproof"
)

func init() {
	rootCmd.AddCommand(proofCmd)
	proofCmd.AddCommand(proofIssueCmd, proofRevokeCmd, proofVerifyCmd)
}

var proofCmd = &cobra.Command{
	Use:   "proof",
	Short: "Issue, revoke and verify artifact trust proofs",
}

// proofService opens the app and fails when trust proofs are disabled.
func proofService(ctx context.Context) (*app.App, *trustproof.Service, error) {
	a, err := openApp(ctx)
	if err != nil {
		return nil, nil, err
	}
	if a.Proofs == nil {
		a.Close()
		return nil, nil, errors.New("trust.secret is not configured (set TRUST_SECRET)")
	}
	return a, a.Proofs, nil
}

// ── proof issue ──────────────────────────────────────────────────────────────

var (
	issueRef  string
	issueType string
	issueMeta []string
)

var proofIssueCmd = &cobra.Command{
	Use:   "issue <artifact-id> <file>",
	Short: "Hash an artifact and issue a signed trust proof for it",
	Long: `issue hashes the file, signs a proof token and a compact attestation,
records a trust_proof_issued entry, and makes the proof the artifact's
active proof. --ref must name an entry in the governance ledger.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := parsePairs(issueMeta)
		if err != nil {
			return err
		}
		ctx := context.Background()
		a, svc, err := proofService(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		issued, err := svc.Issue(ctx, trustproof.IssueRequest{
			ArtifactID:      args[0],
			FilePath:        args[1],
			ArtifactType:    issueType,
			LedgerReference: issueRef,
			Metadata:        meta,
		})
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(issued)
		}
		fmt.Printf("✓ Proof issued for %s\n\n", args[0])
		fmt.Printf("  Hash:         %s\n", issued.Claims.ArtifactHash)
		fmt.Printf("  Expires:      %s\n", issued.Claims.ExpiresAt.Time.Format("2006-01-02"))
		fmt.Printf("  Ledger entry: %s\n", issued.LedgerEntryID)
		fmt.Printf("  Verify at:    %s\n\n", issued.VerificationURL)
		fmt.Println(issued.Token)
		return nil
	},
}

func init() {
	proofIssueCmd.Flags().StringVar(&issueRef, "ref", "", "governance ledger entry the proof cites")
	proofIssueCmd.Flags().StringVar(&issueType, "type", "", "artifact type, e.g. report")
	proofIssueCmd.Flags().StringArrayVar(&issueMeta, "meta", nil, "metadata as key=value (repeatable)")
	_ = proofIssueCmd.MarkFlagRequired("ref")
}

// ── proof revoke ─────────────────────────────────────────────────────────────

var (
	revokeReason      string
	revokeBy          string
	revokeReplacement string
)

var proofRevokeCmd = &cobra.Command{
	Use:   "revoke <artifact-id>",
	Short: "Revoke an artifact's active proof",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, svc, err := proofService(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rev, err := svc.Revoke(ctx, trustproof.RevokeRequest{
			ArtifactID:            args[0],
			Reason:                revokeReason,
			RevokedBy:             revokeBy,
			ReplacementArtifactID: revokeReplacement,
		})
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(rev)
		}
		fmt.Printf("✓ Revoked proof for %s (ledger entry %s)\n", rev.ArtifactID, rev.LedgerReference)
		return nil
	},
}

func init() {
	proofRevokeCmd.Flags().StringVar(&revokeReason, "reason", "", "why the proof is withdrawn")
	proofRevokeCmd.Flags().StringVar(&revokeBy, "by", "", "who revoked it")
	proofRevokeCmd.Flags().StringVar(&revokeReplacement, "replacement", "", "artifact id that replaces this one")
	_ = proofRevokeCmd.MarkFlagRequired("reason")
}

// ── proof verify ─────────────────────────────────────────────────────────────

var (
	verifyToken string
	verifyRID   string
	verifySig   string
	verifyTS    string
	verifyH     string
)

var proofVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a proof token or a compact attestation",
	RunE: func(cmd *cobra.Command, args []string) error {
		if verifyToken == "" && (verifyRID == "" || verifySig == "") {
			return errors.New("provide --token, or --rid and --sig")
		}
		ctx := context.Background()
		a, svc, err := proofService(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var res *trustproof.Result
		if verifyToken != "" {
			res, err = svc.VerifyToken(ctx, verifyToken)
		} else {
			att := trustproof.Attestation{RID: verifyRID, Sig: verifySig, H: verifyH}
			if verifyTS != "" {
				if att.TS, err = strconv.ParseInt(verifyTS, 10, 64); err != nil {
					return fmt.Errorf("--ts: %w", err)
				}
			}
			res, err = svc.VerifyAttestation(ctx, att)
		}
		if err != nil {
			return err
		}
		if err := printJSON(res); err != nil {
			return err
		}
		if res.Status != trustproof.StatusValid {
			return fmt.Errorf("proof status: %s", res.Status)
		}
		return nil
	},
}

func init() {
	f := proofVerifyCmd.Flags()
	f.StringVar(&verifyToken, "token", "", "full proof token")
	f.StringVar(&verifyRID, "rid", "", "attestation artifact id")
	f.StringVar(&verifySig, "sig", "", "attestation signature")
	f.StringVar(&verifyTS, "ts", "", "attestation timestamp")
	f.StringVar(&verifyH, "h", "", "attestation hash prefix")
}
