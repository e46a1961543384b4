package core

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	guidAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	guidLength   = 8

	// MessagePrefix namespaces server-assigned message ids.
	MessagePrefix = "msg"
	// TempPrefix namespaces optimistic ids. A server id never starts with it.
	TempPrefix = "tmp-"
)

// GenerateGUID creates a short GUID with the provided prefix.
func GenerateGUID(prefix string) (string, error) {
	normalized := strings.TrimSuffix(prefix, "-")

	buf := make([]byte, guidLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate guid: %w", err)
	}

	id := make([]byte, guidLength)
	for i := 0; i < guidLength; i++ {
		id[i] = guidAlphabet[int(buf[i])%len(guidAlphabet)]
	}

	return fmt.Sprintf("%s-%s", normalized, string(id)), nil
}

// NewTempID returns a fresh optimistic id.
func NewTempID() string {
	return TempPrefix + uuid.NewString()
}

// IsTempID reports whether id is an optimistic id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// ShortID extracts the shortened id shown in the UI.
func ShortID(id string, length int) string {
	base := id
	switch {
	case strings.HasPrefix(base, MessagePrefix+"-"):
		base = base[len(MessagePrefix)+1:]
	case IsTempID(base):
		base = base[len(TempPrefix):]
	}
	if length <= 0 {
		return ""
	}
	if length > len(base) {
		length = len(base)
	}
	return base[:length]
}
