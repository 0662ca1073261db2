// Package identity derives the short, deterministic identifiers used for
// users, students and institutions.
//
// Identifiers are the first 15 hex characters of a SHA-256 digest over the
// plain concatenation of their parts. There is no delimiter between parts, so
// ("ab", "c") and ("a", "bc") produce the same identifier. Student identifiers
// are derived from personal data only, which means two people sharing the
// same names, ID prefix and birthdate collide; the datastore rejects the
// second one with a conflict instead of inventing a disambiguator.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Length of a derived identifier in hex characters.
const Length = 15

// Separator joins the levels of composite identifiers.
const Separator = ":"

// BirthdateLayout is the normalized birthdate form inside student identifiers.
const BirthdateLayout = "20060102"

// Derive hashes the concatenation of parts and truncates the hex digest.
func Derive(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])[:Length]
}

// User derives a user principal identifier from the username alone.
func User(username string) string {
	return Derive(username)
}

// Student derives the student identifier. The part order is
// lastname, firstname, id prefix, birthdate.
func Student(lastname, firstname, idPrefix string, birthdate time.Time) string {
	return Derive(lastname, firstname, idPrefix, birthdate.Format(BirthdateLayout))
}

// Institution derives the identifier of an institution. A sub-institution
// is chained under its parent as "parent:child", and the parent identifier is
// kept verbatim so every level of the tree survives.
func Institution(name, parentIdentifier string) string {
	own := Derive(name)
	if parentIdentifier == "" {
		return own
	}
	return Composite(parentIdentifier, own)
}

// Composite joins already derived identifiers with the separator.
func Composite(parts ...string) string {
	return strings.Join(parts, Separator)
}

// Levels splits a composite identifier into its levels, root first.
func Levels(identifier string) []string {
	if identifier == "" {
		return nil
	}
	return strings.Split(identifier, Separator)
}
