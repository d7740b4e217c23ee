// Package keyfile loads the PEM-encoded EC P-256 private key used to sign
// client secrets. Apple distributes these keys as .p8 downloads (PKCS#8);
// SEC1 "EC PRIVATE KEY" blocks are accepted as well.
package keyfile

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Sentinel errors classifying key failures. Callers use errors.Is to map
// them to exit codes and messages.
var (
	// ErrKeyLoad indicates the key file is missing, unreadable, or empty.
	ErrKeyLoad = errors.New("private key unreadable")

	// ErrKeyFormat indicates the file content is not a PEM-encoded EC P-256
	// private key.
	ErrKeyFormat = errors.New("invalid private key format")
)

// Load reads and parses an EC P-256 private key from path.
func Load(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrKeyLoad, path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrKeyLoad, path)
	}
	key, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

// Parse decodes a PEM-encoded EC P-256 private key. PKCS#8 ("PRIVATE KEY",
// the Apple .p8 layout) and SEC1 ("EC PRIVATE KEY") blocks are supported.
func Parse(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyFormat)
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing PKCS#8 block: %v", ErrKeyFormat, err)
		}
		ec, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: PKCS#8 block holds %T, want an EC key", ErrKeyFormat, parsed)
		}
		key = ec
	case "EC PRIVATE KEY":
		ec, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing SEC1 block: %v", ErrKeyFormat, err)
		}
		key = ec
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block type %q", ErrKeyFormat, block.Type)
	}

	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: key uses curve %s, ES256 requires P-256",
			ErrKeyFormat, key.Curve.Params().Name)
	}

	return key, nil
}
