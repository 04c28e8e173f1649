// Package client reads a govledger server's public API.
//
// Every endpoint it calls is unauthenticated and returns aggregate data
// only, so a Client needs nothing but the server's base URL:
//
//	c, err := client.New("https://governance.example.org",
//	    client.WithCacheTTL(5*time.Minute),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	st, err := c.Status(ctx)
//
// # Verifying a trust proof
//
// A proof token, or the rid and sig pair scanned from a QR attestation,
// is checked against the issuing server:
//
//	res, err := c.VerifyProofToken(ctx, token)
//	if err == nil && res.Status == "valid" {
//	    // the artifact matches its ledger entry
//	}
//
// Proof results are returned for every verification outcome, including
// not_found and invalid_token; err is reserved for transport and server
// failures.
package client
