package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aikewa/govledger/pkg/client"
)

var (
	serverURL     string
	remoteTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(remoteCmd)
	remoteCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("GOVLEDGER_SERVER", "http://localhost:8080"), "govledger server URL")
	remoteCmd.PersistentFlags().DurationVar(&remoteTimeout, "timeout", 10*time.Second, "request timeout")
	remoteCmd.AddCommand(remoteStatusCmd, remoteVerifyCmd, remoteProofCmd, remoteNetworkCmd, remoteFeedCmd)
}

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Query a running govledger server's public API",
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func remoteClient() (*client.Client, context.Context, context.CancelFunc, error) {
	c, err := client.New(serverURL)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	return c, ctx, cancel, nil
}

var remoteStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server's system state",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := remoteClient()
		if err != nil {
			return err
		}
		defer cancel()

		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(st)
		}
		fmt.Printf("state:    %s\n", st.SystemState)
		fmt.Printf("root:     %s\n", st.GlobalMerkleRoot)
		fmt.Printf("reviews:  %d pending\n", st.PendingHumanReviews)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LEDGER\tHEALTH")
		for _, l := range []string{"governance", "consent", "federation", "trust_proofs"} {
			if h, ok := st.LedgerStatus[l]; ok {
				fmt.Fprintf(w, "%s\t%s\n", l, h)
			}
		}
		w.Flush() //nolint:errcheck
		for _, is := range st.OpenIssues {
			fmt.Printf("  [%s] %s: %s\n", is.Severity, is.ID, is.Title)
		}
		return nil
	},
}

var remoteScope string

var remoteVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Ask the server to verify its ledgers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := remoteClient()
		if err != nil {
			return err
		}
		defer cancel()

		v, err := c.Verify(ctx, remoteScope)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(v)
		}
		fmt.Printf("scope %s: verified=%t entries=%d root=%s\n", v.Scope, v.Verified, v.Entries, shortHash(v.MerkleRoot))
		if !v.Verified {
			return errors.New("verification failed")
		}
		return nil
	},
}

var (
	remoteToken string
	remoteRID   string
	remoteSig   string
	remoteTS    int64
	remoteH     string
)

var remoteProofCmd = &cobra.Command{
	Use:   "proof",
	Short: "Verify a trust proof against the issuing server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := remoteClient()
		if err != nil {
			return err
		}
		defer cancel()

		var res *client.ProofResult
		switch {
		case remoteToken != "":
			res, err = c.VerifyProofToken(ctx, remoteToken)
		case remoteRID != "" && remoteSig != "":
			res, err = c.VerifyAttestation(ctx, remoteRID, remoteSig, remoteTS, remoteH)
		default:
			return errors.New("either --token or --rid and --sig are required")
		}
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(res)
		}
		fmt.Printf("%s: %s\n", res.ArtifactID, res.Status)
		fmt.Printf("  %s\n", res.Notes)
		for _, w := range res.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		if res.Status != "valid" {
			return fmt.Errorf("proof is %s", res.Status)
		}
		return nil
	},
}

var remoteNetworkCmd = &cobra.Command{
	Use:   "network",
	Short: "Show the server's federation trust summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := remoteClient()
		if err != nil {
			return err
		}
		defer cancel()

		sum, err := c.Network(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(sum)
		}
		fmt.Printf("partners: %d (%d valid, %d stale, %d flagged, %d error)\n",
			sum.TotalPartners, sum.ValidPartners, sum.StalePartners, sum.FlaggedPartners, sum.ErrorPartners)
		fmt.Printf("trust:    %d (%s)\n", sum.TrustScore, sum.Health)
		return nil
	},
}

var feedLimit int

var remoteFeedCmd = &cobra.Command{
	Use:   "feed <ledger>",
	Short: "Print the most recent entries of a public ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := remoteClient()
		if err != nil {
			return err
		}
		defer cancel()

		feed, err := c.Ledger(ctx, args[0], feedLimit)
		if err != nil {
			return err
		}
		return printJSON(feed)
	},
}

func init() {
	remoteVerifyCmd.Flags().StringVar(&remoteScope, "scope", "all", "all or a single ledger")

	f := remoteProofCmd.Flags()
	f.StringVar(&remoteToken, "token", "", "full proof token")
	f.StringVar(&remoteRID, "rid", "", "attestation artifact id")
	f.StringVar(&remoteSig, "sig", "", "attestation signature")
	f.Int64Var(&remoteTS, "ts", 0, "attestation timestamp")
	f.StringVar(&remoteH, "h", "", "attestation hash prefix")

	remoteFeedCmd.Flags().IntVar(&feedLimit, "limit", 20, "number of entries")
}
