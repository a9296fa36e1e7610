package domain

import (
	"strings"
	"time"
)

// Default issuance parameters, overridable through configuration or per record.
const (
	DefaultCodeLength     = 6
	DefaultValidityWindow = 10 * time.Minute
	DefaultMaxAttempts    = 5
)

// CodeRecord tracks one issued one-time code and its verification state.
// A record is immutable after creation except for Attempts, Verified and
// VerifiedAt, which only the verification flow mutates.
type CodeRecord struct {
	ID          string
	Address     string
	Code        string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	Verified    bool
	VerifiedAt  *time.Time
}

// Eligible reports whether the record is still a verification candidate at
// the provided reference time.
func (r CodeRecord) Eligible(now time.Time) bool {
	return !r.Verified && r.ExpiresAt.After(now)
}

// Exhausted reports whether the attempt budget has been spent.
func (r CodeRecord) Exhausted() bool {
	return r.Attempts >= r.MaxAttempts
}

// NormalizeAddress canonicalizes an identity address for storage and lookup.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
