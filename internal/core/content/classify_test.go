package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTokenSoupDetectsCodeDebris(t *testing.T) {
	text := "memcpy(dest, src, size); 0xAABBCCDDEEFF1122 7090; func_call(); manualHeaderValue&&&&&&"
	assert.True(t, IsTokenSoup(text))
}

func TestIsTokenSoupAcceptsProse(t *testing.T) {
	text := "The team decided to migrate the billing service to the new cluster next week after the load tests pass."
	assert.False(t, IsTokenSoup(text))
}

func TestIsTokenSoupShortInputNeverFlagged(t *testing.T) {
	assert.False(t, IsTokenSoup("x(); {};"))
	assert.False(t, IsTokenSoup(""))
}

func TestIsTokenSoupOneLetterTokens(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("a b c d e f g h i j ", 4))
	assert.True(t, IsTokenSoup(text))
}

func TestIsTokenSoupPunctuationRun(t *testing.T) {
	text := "some words here and then noise ======== more words to pad the length out"
	assert.True(t, IsTokenSoup(text))
}

func TestIsTokenSoupConfigurable(t *testing.T) {
	cfg := DefaultSoupConfig
	cfg.MinLength = 500
	text := "memcpy(dest, src, size); 0xAABBCCDDEEFF1122 7090; func_call(); manualHeaderValue&&&&&&"
	assert.False(t, cfg.IsTokenSoup(text))
	assert.True(t, DefaultSoupConfig.IsTokenSoup(text))
}

func TestSanitizeTokenSoupStripsCodeAndHex(t *testing.T) {
	text := "before memcpy(dest, src, size) middle 0xAABBCCDDEEFF1122 after manualHeaderValue&&&&&&"
	out := SanitizeTokenSoup(text)

	assert.NotContains(t, out, "memcpy(")
	assert.NotContains(t, out, "0xAABBCCDDEEFF1122")
	assert.NotContains(t, out, "&&&")
	assert.Contains(t, out, "before")
	assert.Contains(t, out, "manualHeaderValue")
}

func TestSanitizeTokenSoupTruncatesLongOutput(t *testing.T) {
	out := SanitizeTokenSoup(strings.Repeat("word ", 300))
	assert.LessOrEqual(t, len(out), 503)
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestSanitizeTokenSoupEmpty(t *testing.T) {
	assert.Equal(t, "", SanitizeTokenSoup(""))
}
