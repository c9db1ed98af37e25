package distill

import (
	"regexp"
	"strings"

	"github.com/agenthands/loom/internal/core/content"
	"github.com/agenthands/loom/internal/core/model"
)

var (
	versionEntityRe = regexp.MustCompile(`v\d+\.\d+(?:\.\d+)?`)
	pathEntityRe    = regexp.MustCompile(`\b[A-Za-z0-9\-_/\\]+/[A-Za-z0-9\-_.]+\b`)
	pkgEntityRe     = regexp.MustCompile(`(?i)\b(npm|pip|apt-get|docker|cargo)\b`)
	properNounRe    = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)
)

// SimpleEntityExtraction pulls entities out of text without inference.
// Technical text contributes version strings, file paths, and package
// managers before falling back to proper nouns; plain text yields proper
// nouns only. Entities are deduplicated by lowercased text.
func SimpleEntityExtraction(text string, maxEntities int) []model.DistilledEntity {
	if maxEntities <= 0 {
		maxEntities = 10
	}
	var entities []model.DistilledEntity
	seen := map[string]bool{}

	appendEntity := func(text, typ string) {
		key := strings.ToLower(strings.TrimSpace(text))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		entities = append(entities, model.DistilledEntity{Text: strings.TrimSpace(text), Type: typ})
	}

	if content.HasTechnicalSignal(text) {
		for _, m := range versionEntityRe.FindAllString(text, -1) {
			appendEntity(m, "version")
		}
		for _, m := range pathEntityRe.FindAllString(text, -1) {
			appendEntity(m, "path")
		}
		for _, m := range pkgEntityRe.FindAllString(text, -1) {
			appendEntity(m, "package")
		}
	}
	for _, m := range properNounRe.FindAllString(text, -1) {
		appendEntity(m, "proper_noun")
	}

	if len(entities) > maxEntities {
		entities = entities[:maxEntities]
	}
	return entities
}

var (
	callNameRe   = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\(`)
	hexLiteralRe = regexp.MustCompile(`\b0x[0-9a-fA-F]{6,}\b`)
)

// TechnicalArtifacts extracts code-call names and hex literals from raw
// text. The heuristic fallback uses it when sanitization strips everything
// the plain extractor could latch onto.
func TechnicalArtifacts(text string, maxEntities int) []model.DistilledEntity {
	if maxEntities <= 0 {
		maxEntities = 10
	}
	var entities []model.DistilledEntity
	seen := map[string]bool{}
	for _, m := range callNameRe.FindAllStringSubmatch(text, -1) {
		key := strings.ToLower(m[1])
		if seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, model.DistilledEntity{Text: m[1], Type: "code_call"})
		if len(entities) >= maxEntities {
			return entities
		}
	}
	for _, m := range hexLiteralRe.FindAllString(text, -1) {
		key := strings.ToLower(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, model.DistilledEntity{Text: m, Type: "hex_literal"})
		if len(entities) >= maxEntities {
			return entities
		}
	}
	return entities
}

// ConsolidateEntities deduplicates by normalized text, keeping the
// higher-scored duplicate. Output preserves first-seen order.
func ConsolidateEntities(entities []model.DistilledEntity) []model.DistilledEntity {
	var out []model.DistilledEntity
	index := map[string]int{}
	for _, e := range entities {
		key := strings.ToLower(strings.TrimSpace(e.Text))
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			if e.Score > out[i].Score {
				out[i] = e
			}
			continue
		}
		index[key] = len(out)
		out = append(out, e)
	}
	return out
}
