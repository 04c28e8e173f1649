package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aikewa/govledger/internal/federation"
)

func init() {
	rootCmd.AddCommand(partnerCmd)
	partnerCmd.AddCommand(partnerAddCmd, partnerListCmd, partnerDeactivateCmd, partnerVerifyCmd)
}

var partnerCmd = &cobra.Command{
	Use:   "partner",
	Short: "Manage federation partners",
}

// ── partner add ──────────────────────────────────────────────────────────────

var (
	partnerName      string
	partnerEndpoint  string
	partnerSecret    string
	partnerStaleDays int
	partnerInactive  bool
)

var partnerAddCmd = &cobra.Command{
	Use:   "add <partner-id>",
	Short: "Register a federation partner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		active := !partnerInactive
		p, entry, err := a.Federation.AddPartner(ctx, federation.AddPartnerRequest{
			PartnerID:          args[0],
			DisplayName:        partnerName,
			GovernanceEndpoint: partnerEndpoint,
			WebhookSecret:      partnerSecret,
			StaleThresholdDays: partnerStaleDays,
			Active:             &active,
		})
		var verr *federation.ValidationError
		if errors.As(err, &verr) {
			for _, p := range verr.Problems {
				fmt.Fprintf(os.Stderr, "  ✗ %s\n", p)
			}
			return err
		}
		if err != nil {
			return err
		}
		fmt.Printf("✓ Partner %s registered (ledger entry %s)\n", p.PartnerID, entry.ID)
		if p.WebhookSecret == "" {
			fmt.Println("  No webhook secret: notifications from this partner will be refused.")
		}
		return nil
	},
}

func init() {
	f := partnerAddCmd.Flags()
	f.StringVar(&partnerName, "name", "", "display name")
	f.StringVar(&partnerEndpoint, "endpoint", "", "partner governance status URL")
	f.StringVar(&partnerSecret, "webhook-secret", "", "shared webhook HMAC secret (at least 16 characters)")
	f.IntVar(&partnerStaleDays, "stale-days", federation.DefaultStaleDays, "days before a partner's record is stale")
	f.BoolVar(&partnerInactive, "inactive", false, "register without activating")
	_ = partnerAddCmd.MarkFlagRequired("name")
	_ = partnerAddCmd.MarkFlagRequired("endpoint")
}

// ── partner list ─────────────────────────────────────────────────────────────

var partnerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered partners",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		partners, err := a.Federation.Partners(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tACTIVE\tWEBHOOK\tSTALE DAYS\tENDPOINT")
		for _, p := range partners {
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%d\t%s\n",
				p.PartnerID, p.DisplayName, p.Active, p.WebhookSecret != "", p.StaleThresholdDays, p.GovernanceEndpoint)
		}
		return w.Flush()
	},
}

// ── partner deactivate ───────────────────────────────────────────────────────

var partnerDeactivateCmd = &cobra.Command{
	Use:   "deactivate <partner-id>",
	Short: "Deactivate a partner; its history is kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		entry, err := a.Federation.Deactivate(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Partner %s deactivated (ledger entry %s)\n", args[0], entry.ID)
		return nil
	},
}

// ── partner verify ───────────────────────────────────────────────────────────

var partnerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Poll every active partner and record the outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.Federation.VerifyNetwork(ctx, a.FederationClient())
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(sum)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PARTNER\tSTATUS\tROOT\tNOTES")
		for _, v := range sum.Partners {
			notes := v.Notes
			if v.Error != "" {
				notes = v.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.PartnerID, v.TrustStatus, shortHash(v.LastMerkleRoot), notes)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\nTrust score: %d (%s)\n", sum.TrustScore, sum.Health)
		fmt.Printf("Network root: %s\n", sum.NetworkMerkleAggregate)
		return nil
	},
}
