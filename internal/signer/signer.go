// Package signer produces and checks detached RSA-PSS signatures over
// certificate hashes.
//
// The signed message is the UTF-8 text of the 0x-prefixed hash, not the raw
// hash bytes. The digest is SHA-256, MGF1 uses SHA-256 and the salt is the
// maximum length the modulus allows. Both sides pin the salt length
// explicitly; a verifier using a different salt policy rejects every
// signature this package makes.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/swissborg/academic-certs/internal/keys"
)

var ErrInvalidSignature = errors.New("signature is not valid hex")

// MaxSaltLength is emLen - hLen - 2 for a SHA-256 PSS signature.
func MaxSaltLength(pub *rsa.PublicKey) int {
	emLen := (pub.N.BitLen() - 1 + 7) / 8
	return emLen - sha256.Size - 2
}

func pssOptions(pub *rsa.PublicKey) *rsa.PSSOptions {
	return &rsa.PSSOptions{
		SaltLength: MaxSaltLength(pub),
		Hash:       crypto.SHA256,
	}
}

func Sign(hashHex string, priv *rsa.PrivateKey) (string, error) {
	digest := sha256.Sum256([]byte(hashHex))

	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], pssOptions(&priv.PublicKey))
	if err != nil {
		return "", fmt.Errorf("sign certificate hash: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// SignPEM loads the PEM private key and signs. A key that cannot be loaded
// yields an error wrapping keys.ErrKeyUnreadable.
func SignPEM(hashHex, privatePEM string) (string, error) {
	priv, err := keys.ParsePrivateKey(privatePEM)
	if err != nil {
		return "", err
	}
	return Sign(hashHex, priv)
}

// Verify reports whether signatureHex is a valid signature of hashHex.
// It never panics; any malformed input is simply false.
func Verify(signatureHex, hashHex string, pub *rsa.PublicKey) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	if pub == nil {
		return false
	}
	sig, err := decodeSignature(signatureHex)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(hashHex))
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, pssOptions(pub)) == nil
}

func VerifyPEM(signatureHex, hashHex, publicPEM string) bool {
	pub, err := keys.ParsePublicKey(publicPEM)
	if err != nil {
		return false
	}
	return Verify(signatureHex, hashHex, pub)
}

// SignatureKeccak is the compact anchoring key: keccak256 over the raw
// signature bytes, 0x-prefixed hex.
func SignatureKeccak(signatureHex string) (string, error) {
	sig, err := decodeSignature(signatureHex)
	if err != nil {
		return "", err
	}
	return ethcrypto.Keccak256Hash(sig).Hex(), nil
}

func decodeSignature(signatureHex string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSignature)
	}
	return sig, nil
}
