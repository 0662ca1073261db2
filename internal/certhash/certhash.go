// Package certhash computes the content hash that binds a certificate to its
// issuer, student, metadata and moment of issuance.
package certhash

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// TimestampLayout is used when the caller does not supply a timestamp.
const TimestampLayout = time.RFC3339Nano

var ErrInvalidMetadata = errors.New("metadata is not valid json")

type Input struct {
	Type          string
	InstitutionID string
	StudentID     string
	Metadata      json.RawMessage
	// Timestamp is an ISO-8601 string. When empty the current UTC time is used,
	// which is why hashing the same content twice gives different results.
	Timestamp string
}

// record fixes the field order of the hash preimage. Do not reorder.
type record struct {
	Type          string          `json:"type"`
	InstitutionID string          `json:"institution_id"`
	StudentID     string          `json:"student_id"`
	Metadata      json.RawMessage `json:"metadata"`
	Timestamp     string          `json:"timestamp"`
}

// Compute returns keccak256 of the canonical record as 0x-prefixed lowercase hex.
func Compute(in Input) (string, error) {
	preimage, err := Canonical(in)
	if err != nil {
		return "", err
	}
	return crypto.Keccak256Hash(preimage).Hex(), nil
}

// Canonical returns the exact bytes that Compute hashes.
func Canonical(in Input) ([]byte, error) {
	meta, err := CanonicalMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}

	ts := in.Timestamp
	if ts == "" {
		ts = time.Now().UTC().Format(TimestampLayout)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record{
		Type:          in.Type,
		InstitutionID: in.InstitutionID,
		StudentID:     in.StudentID,
		Metadata:      meta,
		Timestamp:     ts,
	}); err != nil {
		return nil, fmt.Errorf("encode certificate record: %w", err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// CanonicalMetadata re-encodes metadata compactly with object keys sorted.
// Empty metadata becomes null.
func CanonicalMetadata(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidMetadata)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Short trims a hex digest for log lines.
func Short(hash string) string {
	if len(hash) > 10 {
		return hash[:10]
	}
	return hash
}
