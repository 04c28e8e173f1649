package signing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// GPGSigner shells out to gpg for ASCII-armored detached signatures.
type GPGSigner struct {
	binary  string
	keyID   string
	timeout time.Duration
}

// NewGPGSigner creates a GPGSigner. An empty binary defaults to "gpg"; a
// zero timeout defaults to 10s.
func NewGPGSigner(binary, keyID string, timeout time.Duration) *GPGSigner {
	if binary == "" {
		binary = "gpg"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &GPGSigner{binary: binary, keyID: keyID, timeout: timeout}
}

// Sign implements Signer. A missing binary, a timeout or a non-zero exit
// all report ErrUnavailable.
func (g *GPGSigner) Sign(ctx context.Context, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	args := []string{"--batch", "--yes", "--armor", "--detach-sign"}
	if g.keyID != "" {
		args = append(args, "--local-user", g.keyID)
	}

	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: gpg: %v: %s", ErrUnavailable, err, strings.TrimSpace(stderr.String()))
	}
	sig := strings.TrimSpace(stdout.String())
	if sig == "" {
		return "", fmt.Errorf("%w: gpg produced no output", ErrUnavailable)
	}
	return sig, nil
}

// GPGVerifier checks armored detached signatures against the local keyring.
type GPGVerifier struct {
	binary  string
	timeout time.Duration
}

// NewGPGVerifier creates a GPGVerifier with the same defaults as NewGPGSigner.
func NewGPGVerifier(binary string, timeout time.Duration) *GPGVerifier {
	if binary == "" {
		binary = "gpg"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &GPGVerifier{binary: binary, timeout: timeout}
}

// Verify implements Verifier.
func (g *GPGVerifier) Verify(ctx context.Context, payload []byte, signature string) error {
	sigFile, err := os.CreateTemp("", "ledger-sig-*.asc")
	if err != nil {
		return fmt.Errorf("create signature file: %w", err)
	}
	defer os.Remove(sigFile.Name()) //nolint:errcheck

	if _, err := sigFile.WriteString(signature); err != nil {
		sigFile.Close() //nolint:errcheck
		return fmt.Errorf("write signature file: %w", err)
	}
	if err := sigFile.Close(); err != nil {
		return fmt.Errorf("close signature file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.binary, "--batch", "--verify", sigFile.Name(), "-")
	cmd.Stdin = bytes.NewReader(payload)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: gpg: %v", ErrUnavailable, ctx.Err())
		}
		// Exit 1 is a bad signature. Exit 2 covers a missing public key or
		// keyring, which says nothing about the signature itself.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return ErrInvalidSignature
		}
		return fmt.Errorf("%w: gpg: %v", ErrUnavailable, err)
	}
	return nil
}
