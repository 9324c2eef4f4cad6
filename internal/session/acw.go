package session

import (
	"fmt"
	"strings"
)

// The anti-automation layer serves a small script assigning a 40-char hex
// challenge token to arg1 and expects the acw_sc__v2 cookie on the retry.
// The transform below is version-locked to that script: a positional
// unscramble over a 40-slot table followed by a hex-pair XOR against a fixed
// mask. Everything stays behind SolveChallenge so a new script version only
// touches this file.

const challengeLen = 40

const xorMask = "3000176000856006061501533003690027800375"

// scrambleOrder[j] is the 1-based source index feeding output slot j.
var scrambleOrder = [challengeLen]int{
	0x0f, 0x23, 0x1d, 0x18, 0x21, 0x10, 0x01, 0x26, 0x0a, 0x09,
	0x13, 0x1f, 0x28, 0x1b, 0x16, 0x17, 0x19, 0x0d, 0x06, 0x0b,
	0x27, 0x12, 0x14, 0x08, 0x0e, 0x15, 0x20, 0x1a, 0x02, 0x1e,
	0x07, 0x04, 0x11, 0x05, 0x03, 0x1c, 0x22, 0x25, 0x0c, 0x24,
}

// SolveChallenge computes the acw_sc__v2 cookie value for a challenge token.
// Input: the 40-character hex token the server assigns to arg1.
// Output: 40 lowercase hex characters.
func SolveChallenge(token string) (string, error) {
	if len(token) != challengeLen {
		return "", fmt.Errorf("challenge token must be %d chars, got %d", challengeLen, len(token))
	}
	unscrambled := make([]byte, challengeLen)
	for j, src := range scrambleOrder {
		unscrambled[j] = token[src-1]
	}
	return hexXor(string(unscrambled), xorMask)
}

func hexXor(s, mask string) (string, error) {
	var b strings.Builder
	b.Grow(challengeLen)
	for i := 0; i+1 < len(s) && i+1 < len(mask); i += 2 {
		a, err := parseHexPair(s[i : i+2])
		if err != nil {
			return "", err
		}
		m, err := parseHexPair(mask[i : i+2])
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%02x", a^m)
	}
	return b.String(), nil
}

func parseHexPair(p string) (byte, error) {
	var v byte
	for i := 0; i < 2; i++ {
		d, ok := hexDigit(p[i])
		if !ok {
			return 0, fmt.Errorf("invalid hex digit %q in challenge token", p[i])
		}
		v = v<<4 | d
	}
	return v, nil
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
