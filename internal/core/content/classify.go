// Package content holds the pure-text heuristics that gate distillation:
// token-soup detection, sanitization, and technical-content normalization.
// Nothing here performs I/O and nothing here returns an error; absence of a
// pattern is a no-op.
package content

import (
	"regexp"
	"strings"
)

// SoupConfig holds the tunable thresholds for token-soup detection. The
// defaults are deliberately conservative: flag likely garbage, leave
// marginal cases untouched.
type SoupConfig struct {
	MinLength       int     // inputs shorter than this are never soup
	MinTokens       int
	CodeLikeRatio   float64 // tokens containing code punctuation
	HexRatio        float64 // hex literals and long digit runs
	OneLetterRatio  float64
	AlphaRatio      float64 // below this, check vowel-free/long-token ratios
	NoVowelRatio    float64
	LongTokenRatio  float64
	PunctRunLength  int
}

// DefaultSoupConfig matches the thresholds the engine was calibrated with.
var DefaultSoupConfig = SoupConfig{
	MinLength:      40,
	MinTokens:      3,
	CodeLikeRatio:  0.25,
	HexRatio:       0.05,
	OneLetterRatio: 0.25,
	AlphaRatio:     0.25,
	NoVowelRatio:   0.2,
	LongTokenRatio: 0.05,
	PunctRunLength: 6,
}

var (
	tokenRe      = regexp.MustCompile(`\S+`)
	codeCharRe   = regexp.MustCompile(`[(){}\[\]<>;=:\\|/@#%$]`)
	hexPrefixRe  = regexp.MustCompile(`^0x[0-9a-fA-F]{8,}$`)
	hexBareRe    = regexp.MustCompile(`^[A-Fa-f0-9]{16,}$`)
	digitRe      = regexp.MustCompile(`[0-9]`)
	letterRe     = regexp.MustCompile(`[A-Za-z]`)
	vowelRe      = regexp.MustCompile(`[aeiouAEIOU]`)
	alphaOnlyRe  = regexp.MustCompile(`^[A-Za-z]+$`)

	fencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	callExprRe   = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\([^)]*\)`)
	hexLongRe    = regexp.MustCompile(`0x[0-9a-fA-F]{6,}`)
	hexWordRe    = regexp.MustCompile(`\b[A-Fa-f0-9]{16,}\b`)
	angleBarRe   = regexp.MustCompile(`[<>|\\]+`)
	soupPunctRe  = regexp.MustCompile(`[^\w\s.,;:\-'"()]+`)
	multiSpaceRe = regexp.MustCompile(`\s+`)
)

// IsTokenSoup reports whether text is likely corrupted or machine-garbled
// rather than prose, using DefaultSoupConfig.
func IsTokenSoup(text string) bool {
	return DefaultSoupConfig.IsTokenSoup(text)
}

// IsTokenSoup applies the configured density heuristics: code-call patterns,
// hex literals, one-letter tokens, vowel-free runs, and punctuation bursts
// dominating over readable word sequences.
func (c SoupConfig) IsTokenSoup(text string) bool {
	s := strings.TrimSpace(text)
	if s == "" || len(s) < c.MinLength {
		return false
	}
	tokens := tokenRe.FindAllString(s, -1)
	if len(tokens) < c.MinTokens {
		return false
	}

	total := float64(len(tokens))
	var codeLike, hexLike, oneLetter, noVowel, alpha, longTok float64
	for _, t := range tokens {
		if len(t) == 1 {
			oneLetter++
		}
		if codeCharRe.MatchString(t) {
			codeLike++
		}
		if hexPrefixRe.MatchString(t) || hexBareRe.MatchString(t) {
			hexLike++
		} else if len(t) >= 8 && digitRe.MatchString(t) && !letterRe.MatchString(t) {
			hexLike++
		}
		if len(t) >= 6 && !vowelRe.MatchString(t) {
			noVowel++
		}
		if alphaOnlyRe.MatchString(t) {
			alpha++
		}
		if len(t) > 30 {
			longTok++
		}
	}

	if codeLike/total > c.CodeLikeRatio || hexLike/total > c.HexRatio || oneLetter/total > c.OneLetterRatio {
		return true
	}
	if alpha/total < c.AlphaRatio && (noVowel/total > c.NoVowelRatio || longTok/total > c.LongTokenRatio) {
		return true
	}
	return hasPunctRun(s, c.PunctRunLength)
}

func hasPunctRun(s string, min int) bool {
	if min <= 0 {
		return false
	}
	run := 0
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' && !letterOrDigit(r) {
			run++
			if run >= min {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

func letterOrDigit(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

// SanitizeTokenSoup strips obvious code fragments, long hex identifiers,
// and structural noise from a token-soup string while preserving any
// readable words around them. Best effort: unrecoverable content stays gone.
func SanitizeTokenSoup(text string) string {
	if text == "" {
		return ""
	}
	t := fencedCodeRe.ReplaceAllString(text, " ")
	t = callExprRe.ReplaceAllString(t, " ")
	t = hexLongRe.ReplaceAllString(t, " ")
	t = hexWordRe.ReplaceAllString(t, " ")
	if len(t) > 200 {
		trimmed := strings.TrimSpace(t)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			t = ExtractTextFromJSON(t)
		}
	}
	t = angleBarRe.ReplaceAllString(t, " ")
	t = soupPunctRe.ReplaceAllString(t, " ")
	t = strings.TrimSpace(multiSpaceRe.ReplaceAllString(t, " "))
	if len(t) > 500 {
		t = t[:500] + "..."
	}
	return t
}
