// Package xid generates prefixed, time-ordered identifiers for sale records,
// returns and receipts.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns an identifier of the form prefix-<unixnano>-<random hex>.
// The timestamp keeps ledger IDs roughly sortable; the random suffix keeps
// them unique across tills.
func New(prefix string) string {
	now := time.Now().UnixNano()
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, now)
	}
	return fmt.Sprintf("%s-%d-%s", prefix, now, hex.EncodeToString(buf))
}
