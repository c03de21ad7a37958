package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gachalab/internal/models"
)

const feedChannel = "gacha:feed"

// identityKey is the cache suffix for a caller; guests are keyed by hash.
func identityKey(id models.Identity) string {
	if !id.IsGuest() {
		return "u:" + id.UserID
	}
	return "g:" + id.GuestTokenHash
}

func lastSpinKey(id models.Identity) string {
	return "spin:last:" + identityKey(id)
}

func spinRateKey(id models.Identity, minute int64) string {
	return "spin:rate:" + identityKey(id) + ":" + strconv.FormatInt(minute, 10)
}

func gachaStatsKey(gachaID string) string {
	return "gacha:" + gachaID + ":stats"
}

func adminSessionKey(sessionID string) string {
	return "admin:session:" + sessionID
}

var errInvalidSession = errors.New("invalid session")

func newSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback-session"
	}
	return hex.EncodeToString(b)
}

func newOutTradeNo(now time.Time) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("GC%d%s", now.UnixMilli(), hex.EncodeToString(buf))
}

func parseIntWithDefault(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return parsed
}

func mustJSON(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}
