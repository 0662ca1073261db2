// Package keys generates and loads the two kinds of key material a principal
// can hold: an RSA signing keypair in PEM form and, for institutions, an
// Ethereum ledger account.
//
// Private keys are returned and stored unencrypted.
package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	SigningKeyBits     = 2048
	SigningKeyExponent = 65537

	privateKeyBlock = "PRIVATE KEY"
	publicKeyBlock  = "PUBLIC KEY"
)

var ErrKeyUnreadable = errors.New("key material unreadable")

// SigningKeyPair holds PEM encoded RSA keys. Private is PKCS#8, Public is PKIX.
type SigningKeyPair struct {
	Public  string
	Private string
}

func (p SigningKeyPair) Empty() bool {
	return p.Public == "" || p.Private == ""
}

// LedgerAccount is a secp256k1 account: a 0x-prefixed hex secret scalar and
// the EIP-55 checksummed address derived from it.
type LedgerAccount struct {
	Address    string
	PrivateKey string
}

func (a LedgerAccount) Empty() bool {
	return a.Address == "" || a.PrivateKey == ""
}

func GenerateSigningKeyPair() (SigningKeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, SigningKeyBits)
	if err != nil {
		return SigningKeyPair{}, fmt.Errorf("generate rsa key: %w", err)
	}
	// crypto/rsa always uses 65537, keep the check so a change upstream is loud
	if priv.PublicKey.E != SigningKeyExponent {
		return SigningKeyPair{}, fmt.Errorf("unexpected public exponent %d", priv.PublicKey.E)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return SigningKeyPair{}, fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return SigningKeyPair{}, fmt.Errorf("marshal public key: %w", err)
	}

	return SigningKeyPair{
		Public:  string(pem.EncodeToMemory(&pem.Block{Type: publicKeyBlock, Bytes: pubDER})),
		Private: string(pem.EncodeToMemory(&pem.Block{Type: privateKeyBlock, Bytes: privDER})),
	}, nil
}

func GenerateLedgerAccount() (LedgerAccount, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return LedgerAccount{}, fmt.Errorf("generate ledger key: %w", err)
	}
	return LedgerAccount{
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
	}, nil
}

// EnsureSigningKeyPair fills an empty slot and reports whether it generated.
// A slot that already holds keys is left untouched.
func EnsureSigningKeyPair(slot *SigningKeyPair) (bool, error) {
	if !slot.Empty() {
		return false, nil
	}
	pair, err := GenerateSigningKeyPair()
	if err != nil {
		return false, err
	}
	*slot = pair
	return true, nil
}

// EnsureLedgerAccount fills an empty slot and reports whether it generated.
func EnsureLedgerAccount(slot *LedgerAccount) (bool, error) {
	if !slot.Empty() {
		return false, nil
	}
	acct, err := GenerateLedgerAccount()
	if err != nil {
		return false, err
	}
	*slot = acct
	return true, nil
}

func ParsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("%w: no pem block in private key", ErrKeyUnreadable)
	}

	switch block.Type {
	case privateKeyBlock:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyUnreadable, err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: private key is %T, not rsa", ErrKeyUnreadable, key)
		}
		return rsaKey, nil
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyUnreadable, err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unexpected pem block %q", ErrKeyUnreadable, block.Type)
	}
}

func ParsePublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("%w: no pem block in public key", ErrKeyUnreadable)
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnreadable, err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is %T, not rsa", ErrKeyUnreadable, key)
	}
	return rsaKey, nil
}

// ParseLedgerKey accepts the secret scalar with or without the 0x prefix.
func ParseLedgerKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: ledger key: %v", ErrKeyUnreadable, err)
	}
	return key, nil
}
