// Package keystore reads and writes the artifacts of the key ceremony.
//
// A key share is stored as CBOR, optionally sealed under a passphrase with
// Argon2id and XChaCha20-Poly1305. The public key package is JSON.
package keystore

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/pkg/party"
	"github.com/zkbitcoin/committee/protocols/frost/keygen"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// PublicKeyPackageFile is the default name of the public key package.
const PublicKeyPackageFile = "publickey-package.json"

// ShareFile returns the file name of the key share of id.
func ShareFile(id party.ID) string {
	return fmt.Sprintf("key-%d.cbor", id)
}

// ErrWrongPassphrase is returned when a sealed share cannot be opened.
var ErrWrongPassphrase = errors.New("keystore: wrong passphrase or corrupted share")

const sealedMagic = "zkbtc-sealed-share-v1"

// Argon2id parameters, as recommended by RFC 9106 for memory constrained settings.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	saltSize     = 16
)

type sealed struct {
	Magic      string `cbor:"magic"`
	Salt       []byte `cbor:"salt"`
	Nonce      []byte `cbor:"nonce"`
	Ciphertext []byte `cbor:"ciphertext"`
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

// EncodeShare serializes share, sealing it when passphrase is not empty.
func EncodeShare(share *keygen.Config, passphrase []byte) ([]byte, error) {
	plain, err := cbor.Marshal(share)
	if err != nil {
		return nil, fmt.Errorf("keystore.EncodeShare: %w", err)
	}
	if len(passphrase) == 0 {
		return plain, nil
	}

	s := sealed{Magic: sealedMagic, Salt: make([]byte, saltSize), Nonce: make([]byte, chacha20poly1305.NonceSizeX)}
	if _, err = rand.Read(s.Salt); err != nil {
		return nil, fmt.Errorf("keystore.EncodeShare: %w", err)
	}
	if _, err = rand.Read(s.Nonce); err != nil {
		return nil, fmt.Errorf("keystore.EncodeShare: %w", err)
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, s.Salt))
	if err != nil {
		return nil, fmt.Errorf("keystore.EncodeShare: %w", err)
	}
	s.Ciphertext = aead.Seal(nil, s.Nonce, plain, []byte(sealedMagic))
	return cbor.Marshal(&s)
}

// DecodeShare parses and validates a share written by EncodeShare.
func DecodeShare(data, passphrase []byte) (*keygen.Config, error) {
	var s sealed
	if cbor.Unmarshal(data, &s) == nil && s.Magic == sealedMagic {
		if len(passphrase) == 0 {
			return nil, api.Errorf(api.ErrConfiguration, "key share is sealed, a passphrase is needed")
		}
		aead, err := chacha20poly1305.NewX(deriveKey(passphrase, s.Salt))
		if err != nil {
			return nil, fmt.Errorf("keystore.DecodeShare: %w", err)
		}
		if len(s.Nonce) != aead.NonceSize() {
			return nil, ErrWrongPassphrase
		}
		if data, err = aead.Open(nil, s.Nonce, s.Ciphertext, []byte(sealedMagic)); err != nil {
			return nil, ErrWrongPassphrase
		}
	}

	share := new(keygen.Config)
	if err := cbor.Unmarshal(data, share); err != nil {
		return nil, api.Wrap(api.ErrConfiguration, fmt.Errorf("key share: %w", err))
	}
	if err := share.Validate(); err != nil {
		return nil, api.Wrap(api.ErrConfiguration, err)
	}
	return share, nil
}

// WriteShare writes share to dir/key-<id>.cbor and returns the path.
func WriteShare(dir string, share *keygen.Config, passphrase []byte) (string, error) {
	data, err := EncodeShare(share, passphrase)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ShareFile(share.ID))
	if err = os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("keystore.WriteShare: %w", err)
	}
	return path, nil
}

// ReadShare reads a key share file.
func ReadShare(path string, passphrase []byte) (*keygen.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, api.Wrap(api.ErrConfiguration, err)
	}
	return DecodeShare(data, passphrase)
}

// WritePublic writes the public key package to dir and returns the path.
func WritePublic(dir string, public *keygen.PublicKeyPackage) (string, error) {
	data, err := json.MarshalIndent(public, "", "  ")
	if err != nil {
		return "", fmt.Errorf("keystore.WritePublic: %w", err)
	}
	path := filepath.Join(dir, PublicKeyPackageFile)
	if err = os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("keystore.WritePublic: %w", err)
	}
	return path, nil
}

// ReadPublic reads and validates a public key package.
func ReadPublic(path string) (*keygen.PublicKeyPackage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, api.Wrap(api.ErrConfiguration, err)
	}
	public := new(keygen.PublicKeyPackage)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err = dec.Decode(public); err != nil {
		return nil, api.Wrap(api.ErrConfiguration, fmt.Errorf("%s: %w", path, err))
	}
	if err = public.Validate(); err != nil {
		return nil, api.Wrap(api.ErrConfiguration, err)
	}
	return public, nil
}
