package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// A key is three hyphen-separated segments of 4 uppercase hex characters,
// 48 random bits in total.
const (
	keySegments     = 3
	keySegmentBytes = 2
)

var keyPattern = regexp.MustCompile(`^[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`)

// GenerateKey draws a new license key from src. A nil src means crypto/rand.
func GenerateKey(src io.Reader) (string, error) {
	if src == nil {
		src = rand.Reader
	}
	segments := make([]string, keySegments)
	buf := make([]byte, keySegmentBytes)
	for i := range segments {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		segments[i] = strings.ToUpper(hex.EncodeToString(buf))
	}
	return strings.Join(segments, "-"), nil
}

// ValidKeyFormat reports whether key has the XXXX-XXXX-XXXX shape.
func ValidKeyFormat(key string) bool {
	return keyPattern.MatchString(key)
}
