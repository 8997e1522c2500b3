package dicom

import (
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// uidRoot is the UUID-derived UID arc from PS3.5 B.2.
const uidRoot = "2.25."

const tokenAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// NewUID returns a globally unique DICOM UID built from a random UUID.
func NewUID() string {
	id := uuid.New()
	return uidRoot + new(big.Int).SetBytes(id[:]).String()
}

// NewToken returns a random 16 character upper-case identifier suitable for
// patient ids and accession numbers.
func NewToken() string {
	return strings.ToUpper(shortUUID()[:16])
}

// shortUUID renders a random UUID in a 57 symbol alphabet without
// look-alike characters, padded to 22 symbols.
func shortUUID() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	base := big.NewInt(int64(len(tokenAlphabet)))
	digit := new(big.Int)

	out := make([]byte, 22)
	for i := len(out) - 1; i >= 0; i-- {
		n.DivMod(n, base, digit)
		out[i] = tokenAlphabet[digit.Int64()]
	}
	return string(out)
}
