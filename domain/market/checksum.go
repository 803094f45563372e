package market

import (
	"crypto/sha256"
	"crypto/subtle"
)

// Checksum is an order-independent digest of a set of order ids: the XOR of
// their SHA-256 hashes. Processing the same id twice removes it again.
type Checksum [sha256.Size]byte

// Process folds orderID into the sum.
func (c *Checksum) Process(orderID string) {
	h := sha256.Sum256([]byte(orderID))
	subtle.XORBytes(c[:], c[:], h[:])
}

// Matches reports whether sum equals the accumulated checksum.
func (c *Checksum) Matches(sum []byte) bool {
	return subtle.ConstantTimeCompare(c[:], sum) == 1
}

func (c *Checksum) Reset() {
	*c = Checksum{}
}
