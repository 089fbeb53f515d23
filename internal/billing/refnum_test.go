package billing_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/danharsa/billpay/internal/billing"
)

func TestNewReferenceNumber_Shape(t *testing.T) {
	ref := billing.NewReferenceNumber()

	assert.True(t, strings.HasPrefix(ref, "TRX"), "missing prefix: %s", ref)
	// prefix (3) + millisecond timestamp (13) + suffix (5)
	assert.Len(t, ref, 21)

	for _, c := range ref[3:] {
		ok := (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z')
		assert.True(t, ok, "unexpected character %q in %s", c, ref)
	}
}

func TestNewReferenceNumber_NoObviousCollisions(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		ref := billing.NewReferenceNumber()
		_, dup := seen[ref]
		assert.False(t, dup, "duplicate reference %s", ref)
		seen[ref] = struct{}{}
	}
}
