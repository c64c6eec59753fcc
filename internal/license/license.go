// Package license derives the checksummed activation token handed to an
// approved device. The derivation is deterministic so a re-approval with
// the same expiry produces the same token.
package license

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	machinePrefix  = "MACHINE_"
	machineSuffix  = "_SALT"
	checksumSuffix = "_CHECKSUM"
)

// Generate maps (machine code, expiry) to a token of the form
// XXXXXXXX-YYYYMMDD-HHMMSS-ZZZZ: an 8-hex-digit device fingerprint, the
// expiry date and time in the local calendar, and a 4-hex-digit checksum.
// The checksum is a keyed-hash tripwire against casual tampering, not a
// cryptographic signature.
func Generate(machineCode string, expiry time.Time) string {
	fingerprint := sha256.Sum256([]byte(machinePrefix + machineCode + machineSuffix))
	machinePart := strings.ToUpper(hex.EncodeToString(fingerprint[:4]))

	datePart := expiry.Format("20060102")
	timePart := expiry.Format("150405")

	sum := md5.Sum([]byte(machineCode + "_" + datePart + timePart + checksumSuffix))
	checksum := strings.ToUpper(hex.EncodeToString(sum[:2]))

	return machinePart + "-" + datePart + "-" + timePart + "-" + checksum
}
