package relevance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"copilot/internal/model"
)

// CacheKey identifies one filter result: the event content, the location
// timezone and the local day. Callers that memoize results own the cache;
// the filter never does.
func CacheKey(events []model.Event, timezone, today string) string {
	h := sha256.New()
	h.Write([]byte(timezone))
	h.Write([]byte{0})
	h.Write([]byte(today))
	h.Write([]byte{0})
	enc := json.NewEncoder(h)
	for _, ev := range events {
		// Encoding a plain struct of strings and float pointers cannot fail.
		_ = enc.Encode(ev)
	}
	return hex.EncodeToString(h.Sum(nil))
}
