package ocpi

import (
	"encoding/base64"
	"strings"
)

const tokenScheme = "Token "

// AuthorizationHeader encodes token the way OCPI 2.2+ expects it.
func AuthorizationHeader(token string) string {
	return tokenScheme + base64.StdEncoding.EncodeToString([]byte(token))
}

// TokenCandidates extracts the presented token from an Authorization header.
// Parties on older versions send the token unencoded, so the decoded form is
// returned first followed by the raw form.
func TokenCandidates(header string) []string {
	header = strings.TrimSpace(header)
	if len(header) <= len(tokenScheme) || !strings.EqualFold(header[:len(tokenScheme)], tokenScheme) {
		return nil
	}
	raw := strings.TrimSpace(header[len(tokenScheme):])
	if raw == "" {
		return nil
	}

	out := make([]string, 0, 2)
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) > 0 && printable(decoded) {
		out = append(out, string(decoded))
	}
	return append(out, raw)
}

func printable(b []byte) bool {
	for _, c := range b {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
