package visitors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// BuildFingerprint creates a privacy-first visitor identifier from the site
// id, client IP and user-agent. IP addresses are never stored - only used in
// hashing.
func BuildFingerprint(siteID, ipAddress, userAgent, salt string) string {
	data := fmt.Sprintf("%s.%s.%s.%s", salt, siteID, ipAddress, userAgent)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
