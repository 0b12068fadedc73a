package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// keySegment separates the application namespace from the digest.
const keySegment = "cache"

// DeriveKey maps an application and target URL to a bounded-length store key
// of the form "<lowercase app id>:cache:<hex sha256 of url>".
func DeriveKey(appID, targetURL string) string {
	sum := sha256.Sum256([]byte(targetURL))
	return strings.ToLower(appID) + ":" + keySegment + ":" + hex.EncodeToString(sum[:])
}
