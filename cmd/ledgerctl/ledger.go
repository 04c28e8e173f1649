package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aikewa/govledger/internal/consent"
	"github.com/aikewa/govledger/internal/eii"
	"github.com/aikewa/govledger/internal/integrity"
	"github.com/aikewa/govledger/internal/ledger"
)

func init() {
	rootCmd.AddCommand(appendCmd, verifyCmd, checkCmd, repairCmd, consentCmd, eiiCmd)
	repairCmd.AddCommand(repairPendingCmd, repairResolveCmd)
	consentCmd.AddCommand(consentRecordCmd, consentMetricsCmd)
}

// ── append ───────────────────────────────────────────────────────────────────

var (
	appendID         string
	appendType       string
	appendTitle      string
	appendStatus     string
	appendDocument   string
	appendCommit     string
	appendSupersedes string
	appendApproved   string
	appendNextReview string
	appendMetrics    []string
	appendEII        float64
)

var appendCmd = &cobra.Command{
	Use:   "append <domain>",
	Short: "Append an entry to a ledger",
	Long: `append seals and writes one entry. Dates take the form YYYY-MM-DD.

  ledgerctl append governance --type governance_milestone --title "Q3 review" \
    --next-review 2026-12-01 --metric security=92 --metric accessibility=85

A correction to an earlier entry is appended with --supersedes <entry-id>;
the earlier entry is never modified.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := ledger.ParseDomain(args[0])
		if err != nil {
			return err
		}
		metrics, err := parseFloatPairs(appendMetrics)
		if err != nil {
			return err
		}
		r := ledger.Record{
			ID:         appendID,
			Type:       appendType,
			Title:      appendTitle,
			Status:     appendStatus,
			Document:   appendDocument,
			Commit:     appendCommit,
			Supersedes: appendSupersedes,
			Metrics:    metrics,
		}
		if r.ApprovedDate, err = parseDate(appendApproved); err != nil {
			return fmt.Errorf("--approved: %w", err)
		}
		if r.NextReview, err = parseDate(appendNextReview); err != nil {
			return fmt.Errorf("--next-review: %w", err)
		}
		if cmd.Flags().Changed("eii") {
			v := appendEII
			r.EII = &v
		}

		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		entry, err := a.Ledgers.Store(d).Append(ctx, r)
		if err != nil {
			return fmt.Errorf("append: %w", err)
		}
		if jsonOut {
			return printJSON(entry)
		}
		fmt.Printf("✓ Appended to %s\n\n", d)
		fmt.Printf("  ID:          %s\n", entry.ID)
		fmt.Printf("  Hash:        %s\n", entry.Hash)
		fmt.Printf("  Merkle root: %s\n", entry.MerkleRoot)
		fmt.Printf("  Signed:      %t\n", entry.Signed())
		return nil
	},
}

func init() {
	f := appendCmd.Flags()
	f.StringVar(&appendID, "id", "", "entry id (default: generated)")
	f.StringVar(&appendType, "type", "", "entry type, e.g. governance_milestone")
	f.StringVar(&appendTitle, "title", "", "entry title")
	f.StringVar(&appendStatus, "status", "", "entry status")
	f.StringVar(&appendDocument, "document", "", "referenced document path, relative to the ledger root")
	f.StringVar(&appendCommit, "commit", "", "source commit")
	f.StringVar(&appendSupersedes, "supersedes", "", "id of the entry this one corrects")
	f.StringVar(&appendApproved, "approved", "", "approval date")
	f.StringVar(&appendNextReview, "next-review", "", "next review date")
	f.StringArrayVar(&appendMetrics, "metric", nil, "metric as name=value (repeatable)")
	f.Float64Var(&appendEII, "eii", 0, "explicit index value")
	_ = appendCmd.MarkFlagRequired("type")
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyScope string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify ledger structure, chronology, hashes and signatures",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		set, err := a.Verifier.VerifySet(ctx, a.Ledgers)
		if err != nil {
			return err
		}
		reports := set.Ledgers
		if verifyScope != "all" {
			d, err := ledger.ParseDomain(verifyScope)
			if err != nil {
				return err
			}
			reports = map[ledger.Domain]*integrity.Report{d: set.Ledgers[d]}
		}

		if jsonOut {
			if err := printJSON(reports); err != nil {
				return err
			}
		} else {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LEDGER\tVERIFIED\tENTRIES\tSIGNED\tMERKLE ROOT")
			for _, d := range ledger.Domains {
				r, ok := reports[d]
				if !ok {
					continue
				}
				fmt.Fprintf(w, "%s\t%t\t%d\t%d\t%s\n", d, r.Verified, r.TotalEntries, r.Signatures.Signed, shortHash(r.MerkleRoot))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\nGlobal root: %s\n", set.GlobalMerkleRoot)
			for _, d := range ledger.Domains {
				if r, ok := reports[d]; ok {
					printFailures(r)
				}
			}
		}

		for _, r := range reports {
			if !r.Verified {
				return fmt.Errorf("verification failed")
			}
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyScope, "scope", "all", "all or one of governance, consent, federation, trust_proofs")
}

func printFailures(r *integrity.Report) {
	axes := []struct {
		name     string
		failures []integrity.Failure
	}{
		{"structure", r.Structure.Failures},
		{"chronology", r.Chronology.Failures},
		{"hashes", r.Hashes.Failures},
		{"signatures", r.Signatures.Failures},
	}
	for _, ax := range axes {
		for _, f := range ax.failures {
			fmt.Printf("  ✗ %s %s: entry %d %s: %s\n", r.Domain, ax.name, f.Index, f.EntryID, f.Message)
		}
	}
	if r.Continuity != nil {
		for _, g := range r.Continuity.Gaps {
			fmt.Printf("  ✗ %s continuity: %s references missing parent %s\n", r.Domain, g.EntryID, g.MissingParent)
		}
	}
	for _, msg := range r.Warnings {
		fmt.Printf("  ! %s: %s\n", r.Domain, msg)
	}
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16] + "…"
	}
	return h
}

// ── check ────────────────────────────────────────────────────────────────────

var (
	checkScope  string
	checkRepair bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the integrity engine and report issues",
	Long: `check verifies every ledger, detects governance, consent, federation
and trust proof issues, and reports the resulting system state.

With --repair, each new issue is recorded in the governance ledger, either
as an applied repair or as pending human review.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.Engine.Run(ctx, checkScope, checkRepair)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(rep)
		}

		fmt.Printf("System state: %s\n", rep.SystemState)
		fmt.Printf("Global root:  %s\n\n", rep.GlobalMerkleRoot)

		domains := make([]string, 0, len(rep.LedgerStatus))
		for d := range rep.LedgerStatus {
			domains = append(domains, string(d))
		}
		sort.Strings(domains)
		for _, d := range domains {
			fmt.Printf("  %-13s %s\n", d, rep.LedgerStatus[ledger.Domain(d)])
		}

		if len(rep.Issues) > 0 {
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSEVERITY\tTITLE")
			for _, is := range rep.Issues {
				fmt.Fprintf(w, "%s\t%s\t%s\n", is.ID, is.Severity, is.Title)
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
		if checkRepair {
			fmt.Printf("\nAuto-repaired: %d, escalated: %d\n", rep.AutoRepaired, rep.RequiresHumanReview)
		}
		fmt.Printf("Pending human reviews: %d\n", rep.PendingReviews)
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkScope, "scope", "all", "all or a single ledger domain")
	checkCmd.Flags().BoolVar(&checkRepair, "repair", false, "record repairs for new issues")
}

// ── repair ───────────────────────────────────────────────────────────────────

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Inspect and resolve recorded repairs",
}

var repairPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List repairs awaiting human review",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		pending, err := a.Repairs.Pending(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(pending)
		}
		if len(pending) == 0 {
			fmt.Println("no repairs awaiting review")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ISSUE\tSEVERITY\tDUE\tTITLE")
		for _, r := range pending {
			due := ""
			if r.FollowUpDue != nil {
				due = r.FollowUpDue.Format(time.DateOnly)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.IssueID, r.Severity, due, r.Title)
		}
		return w.Flush()
	},
}

var resolveBy string

var repairResolveCmd = &cobra.Command{
	Use:   "resolve <issue-id>",
	Short: "Record that a human has resolved an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Repairs.Resolve(ctx, args[0], resolveBy); err != nil {
			return err
		}
		fmt.Printf("✓ Resolved %s\n", args[0])
		return nil
	},
}

func init() {
	repairResolveCmd.Flags().StringVar(&resolveBy, "by", "", "who resolved the issue")
	_ = repairResolveCmd.MarkFlagRequired("by")
}

// ── consent ──────────────────────────────────────────────────────────────────

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Record consent events and show aggregate metrics",
}

var (
	consentUser   string
	consentEvent  string
	consentPolicy string
	consentPrefs  []string
)

var consentRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Append a consent event for a pseudonymous user",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := parsePairs(consentPrefs)
		if err != nil {
			return err
		}
		prefs := make(map[string]bool, len(raw))
		for k, v := range raw {
			prefs[k] = v == "true" || v == "yes" || v == "1"
		}

		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		entry, err := a.Consent.Record(ctx, consent.Event{
			UserID:        consentUser,
			Event:         consentEvent,
			Preferences:   prefs,
			PolicyVersion: consentPolicy,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Recorded %s (%s)\n", entry.ID, entry.Type)
		return nil
	},
}

func init() {
	f := consentRecordCmd.Flags()
	f.StringVar(&consentUser, "user", "", "pseudonymous user id")
	f.StringVar(&consentEvent, "event", "", "given, revoked or updated")
	f.StringVar(&consentPolicy, "policy", "", "policy version")
	f.StringArrayVar(&consentPrefs, "pref", nil, "category preference as name=true|false (repeatable)")
	_ = consentRecordCmd.MarkFlagRequired("user")
	_ = consentRecordCmd.MarkFlagRequired("event")
}

var consentMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print aggregate consent metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.Consent.Metrics(ctx)
		if err != nil {
			return err
		}
		return printJSON(m)
	},
}

// ── eii ──────────────────────────────────────────────────────────────────────

var eiiDays int

var eiiCmd = &cobra.Command{
	Use:   "eii",
	Short: "Show the ethical integrity index and its history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		h, err := a.EII.History(ctx, eiiDays)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(h)
		}
		label := eii.Format(h.Current)
		fmt.Printf("Current: %s (%s)\n", label.Value, label.Label)
		fmt.Printf("Window:  %d days, %d observations\n", eiiDays, len(h.DataPoints))
		fmt.Printf("Average: %.1f  Min: %.1f  Max: %.1f  Trend: %s\n", h.Average, h.Min, h.Max, h.Trend)
		return nil
	},
}

func init() {
	eiiCmd.Flags().IntVar(&eiiDays, "days", eii.DefaultDays, "trailing window in days")
}
