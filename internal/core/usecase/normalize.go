package usecase

import (
	"errors"
	"os"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/sveikata-ai/rag-engine/internal/core/domain"
)

const (
	maxQueryLength     = 2000
	defaultMaxVariants = 3
)

// ReplacementRule rewrites one token during normalization. Used mainly for
// diacritic repair on ASCII-typed Lithuanian queries.
type ReplacementRule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Normalizer cleans raw user text and enriches it into a domain.Query.
type Normalizer struct {
	maxVariants int
	rules       map[string]string
}

func NewNormalizer(maxVariants int, extraRules []ReplacementRule) *Normalizer {
	if maxVariants <= 0 {
		maxVariants = defaultMaxVariants
	}
	rules := make(map[string]string, len(builtinRules)+len(extraRules))
	for _, r := range builtinRules {
		rules[r.From] = r.To
	}
	for _, r := range extraRules {
		if r.From != "" && r.To != "" {
			rules[strings.ToLower(r.From)] = r.To
		}
	}
	return &Normalizer{maxVariants: maxVariants, rules: rules}
}

// LoadReplacementRules reads an optional YAML rule file:
//
//	rules:
//	  - from: vezys
//	    to: vėžys
func LoadReplacementRules(path string) ([]ReplacementRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Rules []ReplacementRule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Rules, nil
}

// Normalize fails only on empty or whitespace-only input.
func (n *Normalizer) Normalize(raw, conversationContext string) (domain.Query, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return domain.Query{}, domain.WrapError(domain.ErrInvalidQuery, "normalize", errEmptyQuery)
	}
	if runes := []rune(trimmed); len(runes) > maxQueryLength {
		// Truncate on a rune boundary so multibyte input never turns into
		// invalid UTF-8 downstream.
		trimmed = string(runes[:maxQueryLength])
	}

	normalized := n.applyRules(trimmed)

	query := domain.Query{
		ID:                  uuid.NewString(),
		Raw:                 raw,
		Normalized:          normalized,
		Language:            detectLanguage(normalized),
		Intent:              classifyIntent(normalized),
		ConversationContext: conversationContext,
	}
	query.Variants = n.generateVariants(normalized)
	return query, nil
}

func (n *Normalizer) applyRules(text string) string {
	words := strings.Fields(text)
	changed := false
	for i, word := range words {
		core, prefix, suffix := stripPunct(word)
		if repl, ok := n.rules[strings.ToLower(core)]; ok {
			words[i] = prefix + repl + suffix
			changed = true
		}
	}
	if !changed {
		return text
	}
	return strings.Join(words, " ")
}

// generateVariants widens recall: a punctuation-free form, a content-word
// form, and an ASCII-folded form. Only distinct non-empty variants are kept.
func (n *Normalizer) generateVariants(normalized string) []string {
	seen := map[string]struct{}{normalized: {}}
	variants := make([]string, 0, n.maxVariants)
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		if len(variants) >= n.maxVariants {
			return
		}
		seen[v] = struct{}{}
		variants = append(variants, v)
	}

	add(strings.Join(tokenizeWords(normalized), " "))
	add(strings.Join(contentWords(normalized), " "))
	add(foldDiacritics(normalized))
	return variants
}

func detectLanguage(text string) string {
	lower := strings.ToLower(text)
	if strings.ContainsAny(lower, "ąčęėįšųūž") {
		return "lt"
	}
	for _, word := range tokenizeWords(lower) {
		if _, ok := ltStopwords[word]; ok {
			return "lt"
		}
	}
	return "en"
}

func classifyIntent(text string) domain.Intent {
	words := tokenizeWords(strings.ToLower(text))
	if len(words) == 0 {
		return domain.IntentUnknown
	}
	first := words[0]
	switch first {
	case "kaip", "how":
		return domain.IntentHowTo
	case "kur", "where":
		return domain.IntentLocation
	case "kada", "when", "kelintais":
		return domain.IntentTemporal
	case "kas", "koks", "kokia", "kodėl", "kodel", "what", "why", "who", "which":
		return domain.IntentInformational
	}
	for _, w := range words {
		switch w {
		case "kada", "when", "metais", "šiandien", "rytoj":
			return domain.IntentTemporal
		case "kur", "where", "adresas":
			return domain.IntentLocation
		}
	}
	if strings.HasSuffix(strings.TrimSpace(text), "?") {
		return domain.IntentInformational
	}
	return domain.IntentUnknown
}

// contentWords drops stopwords, keeping at least one token.
func contentWords(text string) []string {
	words := tokenizeWords(strings.ToLower(text))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := ltStopwords[w]; ok {
			continue
		}
		if _, ok := enStopwords[w]; ok {
			continue
		}
		out = append(out, w)
	}
	if len(out) == 0 {
		return words
	}
	return out
}

func foldDiacritics(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if repl, ok := diacriticFold[r]; ok {
			b.WriteRune(repl)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tokenizeWords splits on anything that is not a letter or digit.
func tokenizeWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func stripPunct(word string) (core, prefix, suffix string) {
	runes := []rune(word)
	start := 0
	for start < len(runes) && !unicode.IsLetter(runes[start]) && !unicode.IsDigit(runes[start]) {
		start++
	}
	trail := len(runes)
	for trail > start && !unicode.IsLetter(runes[trail-1]) && !unicode.IsDigit(runes[trail-1]) {
		trail--
	}
	return string(runes[start:trail]), string(runes[:start]), string(runes[trail:])
}

var errEmptyQuery = errors.New("empty query text")

// builtinRules covers the most common ASCII-typed health terms. Extend via
// the YAML rule file rather than here.
var builtinRules = []ReplacementRule{
	{From: "vezys", To: "vėžys"},
	{From: "vezio", To: "vėžio"},
	{From: "plauciu", To: "plaučių"},
	{From: "sirdies", To: "širdies"},
	{From: "kraujospudis", To: "kraujospūdis"},
	{From: "uzdegimas", To: "uždegimas"},
	{From: "slegis", To: "slėgis"},
	{From: "vaistu", To: "vaistų"},
}

var diacriticFold = map[rune]rune{
	'ą': 'a', 'č': 'c', 'ę': 'e', 'ė': 'e', 'į': 'i',
	'š': 's', 'ų': 'u', 'ū': 'u', 'ž': 'z',
	'Ą': 'A', 'Č': 'C', 'Ę': 'E', 'Ė': 'E', 'Į': 'I',
	'Š': 'S', 'Ų': 'U', 'Ū': 'U', 'Ž': 'Z',
}

var ltStopwords = map[string]struct{}{
	"yra": {}, "ir": {}, "ar": {}, "kas": {}, "kaip": {}, "kur": {}, "kada": {},
	"apie": {}, "bet": {}, "tai": {}, "su": {}, "be": {}, "iš": {}, "is": {},
	"į": {}, "prie": {}, "per": {}, "ant": {}, "dėl": {}, "del": {},
}

var enStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "what": {},
	"how": {}, "where": {}, "when": {}, "why": {}, "of": {}, "in": {}, "on": {},
	"to": {}, "for": {}, "and": {}, "or": {}, "do": {}, "does": {},
}
