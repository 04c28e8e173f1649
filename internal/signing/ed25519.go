package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Ed25519Signer signs payloads in-process with an Ed25519 private key.
// Signatures are standard base64.
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

// NewEd25519Signer wraps key.
func NewEd25519Signer(key ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{key: key}
}

// Sign implements Signer.
func (s *Ed25519Signer) Sign(_ context.Context, payload []byte) (string, error) {
	if len(s.key) != ed25519.PrivateKeySize {
		return "", ErrUnavailable
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.key, payload)), nil
}

// Public returns the verifier matching this signer.
func (s *Ed25519Signer) Public() *Ed25519Verifier {
	return NewEd25519Verifier(s.key.Public().(ed25519.PublicKey))
}

// Ed25519Verifier checks base64 Ed25519 signatures.
type Ed25519Verifier struct {
	pub ed25519.PublicKey
}

// NewEd25519Verifier wraps pub.
func NewEd25519Verifier(pub ed25519.PublicKey) *Ed25519Verifier {
	return &Ed25519Verifier{pub: pub}
}

// Verify implements Verifier.
func (v *Ed25519Verifier) Verify(_ context.Context, payload []byte, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: not base64", ErrInvalidSignature)
	}
	if !ed25519.Verify(v.pub, payload, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// GenerateEd25519 creates a new key pair and writes the PKCS#8 private key
// and PKIX public key as PEM files.
func GenerateEd25519(privPath, pubPath string) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}

	if err := writeNew(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := writeNew(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

// writeNew refuses to replace an existing key file.
func writeNew(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}

// LoadEd25519Signer reads a PEM-encoded PKCS#8 Ed25519 private key.
func LoadEd25519Signer(path string) (*Ed25519Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("signing key: no PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("signing key: not an Ed25519 key")
	}
	return NewEd25519Signer(priv), nil
}

// LoadEd25519Verifier reads a PEM-encoded PKIX Ed25519 public key.
func LoadEd25519Verifier(path string) (*Ed25519Verifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("public key: no PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("public key: not an Ed25519 key")
	}
	return NewEd25519Verifier(pub), nil
}
