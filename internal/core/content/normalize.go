package content

import (
	"encoding/json"
	"html"
	"regexp"
	"sort"
	"strings"
)

// Annotations inserted by NormalizeTechnicalContent.
const (
	AnnotationTerminal = "[Context: Terminal Output]"
	AnnotationWindows  = "[OS: Windows]"
	AnnotationLinux    = "[OS: Linux]"
	AnnotationBinary   = "[Binary Data Omitted]"
	AnnotationHTML     = "[Context: HTML]"
)

var (
	ansiEscapeRe   = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
	windowsPathRe  = regexp.MustCompile(`[A-Za-z]:\\`)
	unixPathRe     = regexp.MustCompile(`/(?:[\w\-.@]+/)+[\w\-.@]+`)
	hexDumpRe      = regexp.MustCompile(`0x[0-9a-fA-F]{2,}|[0-9A-Fa-f]{2,}(?:\s+[0-9A-Fa-f]{2,}){4,}`)
	htmlTagRe      = regexp.MustCompile(`<[^>]+>`)
	controlCharRe  = regexp.MustCompile("[\x00\x07\x0b\x0c]")
	cleanPunctRe   = regexp.MustCompile(`[^\w\s.,;:\-'"@#%()?/\\]+`)
	versionRe      = regexp.MustCompile(`v\d+\.\d+(?:\.\d+)?`)
	slashPathRe    = regexp.MustCompile(`/\w+/\w+`)
	shellPromptRe  = regexp.MustCompile(`[$#] `)
	errorMarkerRe  = regexp.MustCompile(`\b(error|exception|traceback|failed)\b`)
	htmlLikeRes    = []*regexp.Regexp{
		regexp.MustCompile(`<\s*/?\w+[^>]*>`),
		regexp.MustCompile(`<a\s+href=`),
		regexp.MustCompile(`<script\b`),
		regexp.MustCompile(`<div\b`),
		regexp.MustCompile(`<p\b`),
	}
	jsonLikeRes = []*regexp.Regexp{
		regexp.MustCompile(`\{\s*".*"\s*:\s*`),
		regexp.MustCompile(`\[\s*\{`),
		regexp.MustCompile(`"response_content"`),
		regexp.MustCompile(`"timestamp"`),
	}
)

// cleanPunctRe plus square brackets, so annotation tags survive cleanup.
var cleanPunctKeepTagsRe = regexp.MustCompile(`[^\w\s.,;:\-'"@#%()?/\\\[\]]+`)

var technicalKeywords = []string{
	"error", "exception", "traceback", "sudo", "apt-get", "npm", "pip",
	"docker", "cargo", "journal", "systemd", "kernel", "trace", "failed",
	"stacktrace",
}

// IsJSONLike reports whether text looks like a serialized JSON payload.
func IsJSONLike(text string) bool {
	if text == "" {
		return false
	}
	for _, re := range jsonLikeRes {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// IsHTMLLike reports whether text carries markup artifacts.
func IsHTMLLike(text string) bool {
	if text == "" {
		return false
	}
	for _, re := range htmlLikeRes {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// RemoveHTMLTags replaces markup tags with spaces.
func RemoveHTMLTags(text string) string {
	return htmlTagRe.ReplaceAllString(text, " ")
}

// ContainsANSICodes reports whether text contains terminal escape sequences.
func ContainsANSICodes(text string) bool {
	return ansiEscapeRe.MatchString(text)
}

// ContainsWindowsPath detects drive-letter paths.
func ContainsWindowsPath(text string) bool {
	i := strings.IndexByte(text, ':')
	for i > 0 && i < len(text)-1 {
		c := text[i-1]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
			if text[i+1] == '\\' || text[i+1] == '/' {
				return true
			}
		}
		j := strings.IndexByte(text[i+1:], ':')
		if j < 0 {
			break
		}
		i = i + 1 + j
	}
	return false
}

// ContainsUnixPath detects POSIX-style paths.
func ContainsUnixPath(text string) bool {
	if strings.Contains(text, "/usr/") || strings.Contains(text, "/bin/") || strings.Contains(text, "/home/") {
		return true
	}
	return unixPathRe.MatchString(text)
}

// ContainsHexDump detects hex literals and fixed-width hex byte columns.
func ContainsHexDump(text string) bool {
	return hexDumpRe.MatchString(text)
}

// NormalizeTechnicalContent removes or annotates noisy technical artifacts
// while keeping the surrounding readable text. Detected ANSI sequences,
// OS paths, hex dumps, and markup each contribute an annotation tag that is
// prepended (sorted, deduplicated) to the cleaned body.
func NormalizeTechnicalContent(text string) string {
	if text == "" {
		return ""
	}
	tags := map[string]struct{}{}
	t := text

	if ContainsANSICodes(t) {
		t = ansiEscapeRe.ReplaceAllString(t, " ")
		tags[AnnotationTerminal] = struct{}{}
	}
	if ContainsWindowsPath(t) {
		tags[AnnotationWindows] = struct{}{}
		t = windowsPathRe.ReplaceAllStringFunc(t, func(m string) string {
			if len(m) > 70 {
				return m[:60] + "..."
			}
			return m
		})
	}
	if ContainsUnixPath(t) {
		tags[AnnotationLinux] = struct{}{}
		t = unixPathRe.ReplaceAllStringFunc(t, func(m string) string {
			if len(m) > 80 {
				return m[:80] + "..."
			}
			return m
		})
	}
	if ContainsHexDump(t) {
		tags[AnnotationBinary] = struct{}{}
		t = hexDumpRe.ReplaceAllString(t, "[binary_data]")
	}
	if IsHTMLLike(t) {
		tags[AnnotationHTML] = struct{}{}
		t = RemoveHTMLTags(t)
	}

	t = controlCharRe.ReplaceAllString(t, " ")
	t = strings.TrimSpace(multiSpaceRe.ReplaceAllString(html.UnescapeString(t), " "))

	if len(tags) > 0 {
		keys := make([]string, 0, len(tags))
		for k := range tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t = strings.Join(keys, " ") + " " + t
	}
	return t
}

// CleanOptions controls CleanContent behavior.
type CleanOptions struct {
	RemoveEmojis      bool
	RemoveNonASCII    bool
	AnnotateTechnical bool
}

// CleanContent normalizes raw content for distillation or embedding:
// JSON payload text extraction, markup removal, entity unescaping, optional
// emoji/non-ASCII stripping, punctuation collapse.
func CleanContent(text string, opts CleanOptions) string {
	if text == "" {
		return ""
	}
	t := strings.TrimSpace(text)
	if opts.AnnotateTechnical {
		t = NormalizeTechnicalContent(t)
	}
	if strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") || strings.Contains(t, `"response_content"`) {
		if extracted := ExtractTextFromJSON(t); extracted != "" {
			t = extracted
		}
	}
	t = RemoveHTMLTags(t)
	t = html.UnescapeString(t)
	if opts.RemoveEmojis {
		t = StripEmojis(t)
	}
	if opts.RemoveNonASCII {
		var b strings.Builder
		for _, r := range t {
			if r < 128 {
				b.WriteRune(r)
			}
		}
		t = b.String()
	}
	punct := cleanPunctRe
	if opts.AnnotateTechnical {
		punct = cleanPunctKeepTagsRe
	}
	t = punct.ReplaceAllString(t, " ")
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(t, " "))
}

// StripEmojis removes common emoji ranges.
func StripEmojis(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if isEmoji(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1F6FF:
		return true
	case r >= 0x1F900 && r <= 0x1F9FF:
		return true
	case r >= 0x1F1E0 && r <= 0x1F1FF:
		return true
	case r >= 0x2702 && r <= 0x27B0:
		return true
	case r >= 0x24C2 && r <= 0x1F251:
		return true
	}
	return false
}

// ExtractTextFromJSON pulls human-readable text out of a JSON payload,
// preferring the well-known content fields. Returns the input unchanged when
// it is not valid JSON.
func ExtractTextFromJSON(s string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		for _, k := range []string{"response_content", "content", "text", "message", "response"} {
			if v, ok := obj[k].(string); ok {
				return v
			}
		}
		var values []string
		for _, v := range obj {
			if sv, ok := v.(string); ok {
				values = append(values, sv)
			}
		}
		sort.Strings(values)
		return strings.Join(values, " ")
	}
	var arr []any
	if err := json.Unmarshal([]byte(s), &arr); err == nil {
		var texts []string
		for _, el := range arr {
			switch v := el.(type) {
			case map[string]any:
				for _, k := range []string{"response_content", "content", "text"} {
					if sv, ok := v[k].(string); ok {
						texts = append(texts, sv)
						break
					}
				}
			case string:
				texts = append(texts, v)
			}
		}
		return strings.Join(texts, " ")
	}
	return s
}

// HasTechnicalSignal reports whether text looks technical or log-like and
// should keep its artifacts rather than be aggressively cleaned: shell
// prompts, package managers, version strings, paths, error markers.
func HasTechnicalSignal(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range []string{"sudo", "apt-get", "npm ", "pip ", "docker ", "cargo "} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	if versionRe.MatchString(text) {
		return true
	}
	if slashPathRe.MatchString(text) || windowsPathRe.MatchString(text) {
		return true
	}
	for _, kw := range technicalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	if errorMarkerRe.MatchString(lower) {
		return true
	}
	return shellPromptRe.MatchString(text)
}
