package app

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

func newTransactionID() string {
	return uuid.NewString()
}

// newConfirmationCode returns a short human-readable code included in the
// result snapshot handed back to the caller.
func newConfirmationCode() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "CONF-00000000"
	}
	return "CONF-" + strings.ToUpper(hex.EncodeToString(b))
}
