package billing

import (
	"math/rand"
	"strconv"
	"time"
)

const (
	refPrefix    = "TRX"
	refSuffixLen = 5
	refAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewReferenceNumber produces a human-shareable transaction reference:
// a literal prefix, the current millisecond timestamp and a short random
// alphanumeric suffix, concatenated without delimiters. Uniqueness is
// best-effort here; the store enforces it with a unique index and the ledger
// retries on collision.
func NewReferenceNumber() string {
	suffix := make([]byte, refSuffixLen)
	for i := range suffix {
		suffix[i] = refAlphabet[rand.Intn(len(refAlphabet))]
	}
	return refPrefix + strconv.FormatInt(time.Now().UnixMilli(), 10) + string(suffix)
}
