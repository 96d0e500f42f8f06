package control

import (
	"encoding/hex"
	"strings"

	"github.com/cuemby/ringcoord/internal/token"
)

// tokensToStatusArg hex-encodes tokens' wire bytes, colon-joined, so the
// whole token list stays a single positional argument within the
// comma-separated STATUS value.
func tokensToStatusArg(toks []token.Token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = hex.EncodeToString(t.Bytes())
	}
	return strings.Join(parts, ":")
}

// parseStatusTokens reverses tokensToStatusArg.
func parseStatusTokens(arg string) ([]token.Token, error) {
	if arg == "" {
		return nil, nil
	}
	parts := strings.Split(arg, ":")
	out := make([]token.Token, 0, len(parts))
	for _, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil {
			return nil, err
		}
		out = append(out, token.FromWire(b))
	}
	return out, nil
}
