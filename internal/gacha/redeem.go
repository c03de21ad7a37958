package gacha

import (
	"crypto/rand"
	"strings"
)

// 32 symbols, so a byte modulo the alphabet is unbiased. 0/O and 1/I are left out.
const redeemAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewRedeemCode returns a code shaped GL-XXXX-XXXX.
func NewRedeemCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("GL-")
	for i, v := range buf {
		if i == 4 {
			b.WriteByte('-')
		}
		b.WriteByte(redeemAlphabet[int(v)%len(redeemAlphabet)])
	}
	return b.String(), nil
}
