package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTechnicalContentANSI(t *testing.T) {
	raw := "\x1b[31mbuild broke\x1b[0m check the output"
	out := NormalizeTechnicalContent(raw)

	assert.False(t, ContainsANSICodes(out))
	assert.True(t, strings.HasPrefix(out, AnnotationTerminal))
	assert.Contains(t, out, "build broke")
}

func TestNormalizeTechnicalContentHexDump(t *testing.T) {
	raw := "payload begins 0xDEADBEEF and continues"
	out := NormalizeTechnicalContent(raw)

	assert.Contains(t, out, AnnotationBinary)
	assert.Contains(t, out, "[binary_data]")
	assert.NotContains(t, out, "0xDEADBEEF")
}

func TestNormalizeTechnicalContentAnnotationsSortedAndDeduped(t *testing.T) {
	raw := "\x1b[0m ls /usr/bin/tool then \x1b[1m cat /home/dev/notes"
	out := NormalizeTechnicalContent(raw)

	assert.Equal(t, 1, strings.Count(out, AnnotationTerminal))
	assert.Equal(t, 1, strings.Count(out, AnnotationLinux))
	// Sorted: [Context: ...] before [OS: ...].
	assert.True(t, strings.Index(out, AnnotationTerminal) < strings.Index(out, AnnotationLinux))
}

func TestNormalizeTechnicalContentWindowsPath(t *testing.T) {
	raw := `copy failed for C:\Users\dev\report.txt retrying`
	out := NormalizeTechnicalContent(raw)

	assert.Contains(t, out, AnnotationWindows)
	assert.Contains(t, out, "copy failed")
}

func TestNormalizeTechnicalContentHTML(t *testing.T) {
	raw := `<div class="msg">deploy finished</div>`
	out := NormalizeTechnicalContent(raw)

	assert.Contains(t, out, AnnotationHTML)
	assert.Contains(t, out, "deploy finished")
	assert.NotContains(t, out, "<div")
}

func TestNormalizeTechnicalContentPlainTextUntouched(t *testing.T) {
	raw := "we agreed to ship the feature on Monday"
	assert.Equal(t, raw, NormalizeTechnicalContent(raw))
}

func TestCleanContentRemovesEmojis(t *testing.T) {
	out := CleanContent("great work \U0001F680\U0001F525 team", CleanOptions{RemoveEmojis: true})
	assert.Equal(t, "great work team", out)
}

func TestCleanContentExtractsJSONPayload(t *testing.T) {
	raw := `{"response_content": "the actual reply", "timestamp": "2024-01-01"}`
	out := CleanContent(raw, CleanOptions{})
	assert.Equal(t, "the actual reply", out)
}

func TestCleanContentAnnotateTechnical(t *testing.T) {
	raw := "\x1b[32mok\x1b[0m service restarted from /usr/bin/systemctl"
	out := CleanContent(raw, CleanOptions{AnnotateTechnical: true})

	assert.NotContains(t, out, "\x1b")
	assert.Contains(t, out, AnnotationTerminal)
	assert.Contains(t, out, "service restarted")
}

func TestCleanContentKeepsAnnotationBrackets(t *testing.T) {
	raw := "\x1b[31mFatal\x1b[0m error at /usr/bin/app; 0xDEADBEEF"
	out := CleanContent(raw, CleanOptions{AnnotateTechnical: true})

	assert.NotContains(t, out, "\x1b")
	assert.NotContains(t, out, "0xDEADBEEF")
	// The annotation tags stay in their literal bracketed form.
	assert.Contains(t, out, AnnotationTerminal)
	assert.Contains(t, out, AnnotationLinux)
	assert.Contains(t, out, AnnotationBinary)
	assert.Contains(t, out, "error at")
}

func TestExtractTextFromJSON(t *testing.T) {
	assert.Equal(t, "hello", ExtractTextFromJSON(`{"content": "hello", "id": 3}`))
	assert.Equal(t, "a b", ExtractTextFromJSON(`[{"text": "a"}, {"text": "b"}]`))
	assert.Equal(t, "not json at all", ExtractTextFromJSON("not json at all"))
}

func TestHasTechnicalSignal(t *testing.T) {
	assert.True(t, HasTechnicalSignal("sudo apt-get install ripgrep"))
	assert.True(t, HasTechnicalSignal("Traceback (most recent call last)"))
	assert.True(t, HasTechnicalSignal("upgraded to v2.14.0 yesterday"))
	assert.False(t, HasTechnicalSignal("lunch was good, see you tomorrow"))
}

func TestIsJSONLikeAndIsHTMLLike(t *testing.T) {
	assert.True(t, IsJSONLike(`{"timestamp": 12345}`))
	assert.False(t, IsJSONLike("plain words"))
	assert.True(t, IsHTMLLike(`<a href="https://x">link</a>`))
	assert.False(t, IsHTMLLike("a < b holds for small a"))
}
