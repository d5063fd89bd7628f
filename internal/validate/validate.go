// Package validate runs non-gating quality diagnostics on translated
// entries and computes a per-entry confidence signal. Every finding (a
// failed check) is recorded for later inspection; checks that pass produce
// no row, and nothing it finds blocks completion.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Severity classifies how serious a diagnostic finding is. It is
// informational only: validate never blocks an entry's Completed status.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Result is one row destined for the validation_results table.
type Result struct {
	Type     string
	Passed   bool
	Severity Severity
	Message  string
}

// Options configures which diagnostics run.
type Options struct {
	SourceLang string
	TargetLang string
	Glossary   map[string]string
}

// Diagnose runs every quality check against one translated entry's text,
// given its source for residue/glossary comparison. It never gates:
// callers persist every Result as a row and move on regardless of
// Passed.
func Diagnose(sourceText, translatedText string, opts Options) []Result {
	var results []Result

	if r := checkBrackets(translatedText); r != nil {
		results = append(results, *r)
	}
	if r := checkStyleTagBalance(translatedText); r != nil {
		results = append(results, *r)
	}
	if opts.SourceLang != "" && opts.SourceLang != opts.TargetLang {
		if r := checkSourceResidue(sourceText, translatedText); r != nil {
			results = append(results, *r)
		}
	}
	if r := checkExcessivePunctuation(translatedText); r != nil {
		results = append(results, *r)
	}
	if len(opts.Glossary) > 0 {
		if r := checkGlossaryMismatch(sourceText, translatedText, opts.Glossary); r != nil {
			results = append(results, *r)
		}
	}

	return results
}

var styleTagPattern = regexp.MustCompile(`\{[^}]*$`)

func checkStyleTagBalance(text string) *Result {
	if styleTagPattern.MatchString(text) {
		return &Result{Type: "style_tag_balance", Passed: false, Severity: SeverityHigh, Message: "unclosed style tag"}
	}
	return nil
}

var bracketPairs = []struct{ open, close rune }{
	{'(', ')'}, {'[', ']'}, {'{', '}'},
}

// checkBrackets counts each delimiter pair rather than requiring strict
// nesting; subtitle lines freely interleave parenthetical asides with
// bracketed sound cues, so only a count imbalance signals a mangled
// translation.
func checkBrackets(text string) *Result {
	for _, p := range bracketPairs {
		opens := strings.Count(text, string(p.open))
		closes := strings.Count(text, string(p.close))
		if opens != closes {
			return &Result{
				Type: "bracket_match", Passed: false, Severity: SeverityMedium,
				Message: fmt.Sprintf("unbalanced %c%c pair: %d opening, %d closing", p.open, p.close, opens, closes),
			}
		}
	}
	return nil
}

// checkSourceResidue flags a translation that carries over half or more
// of the source's significant words verbatim, which usually means the
// provider echoed the line back instead of translating it. Proper names
// legitimately survive translation, so a small carryover is expected and
// only the ratio is diagnostic.
func checkSourceResidue(sourceText, translatedText string) *Result {
	srcWords := significantWords(sourceText)
	if len(srcWords) == 0 {
		return nil
	}

	carried := 0
	example := ""
	for w := range srcWords {
		if containsWord(translatedText, w) {
			carried++
			if example == "" || w < example {
				example = w
			}
		}
	}
	if carried*2 >= len(srcWords) {
		return &Result{
			Type: "source_residue", Passed: false, Severity: SeverityMedium,
			Message: fmt.Sprintf("%d of %d source words untranslated, e.g. %q", carried, len(srcWords), example),
		}
	}
	return nil
}

// significantWords lowercases text and keeps words of four letters or
// more; shorter words collide across languages too often to signal
// anything.
func significantWords(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if len([]rune(w)) >= 4 {
			words[w] = struct{}{}
		}
	}
	return words
}

func containsWord(text, word string) bool {
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	return re.MatchString(text)
}

// Runs of dots are normal subtitle typography (ellipses, trailing
// pauses), so only runs past an ellipsis are flagged; doubled terminal
// punctuation is always suspect.
var punctuationRuns = regexp.MustCompile(`!!+|\?\?+|\.\.\.\.+`)

func checkExcessivePunctuation(text string) *Result {
	if run := punctuationRuns.FindString(text); run != "" {
		return &Result{
			Type: "excessive_punctuation", Passed: false, Severity: SeverityLow,
			Message: fmt.Sprintf("repeated terminal punctuation %q", run),
		}
	}
	return nil
}

// checkGlossaryMismatch verifies that when the source uses a glossary
// term, the translation carries that term's pinned rendering.
func checkGlossaryMismatch(sourceText, translatedText string, glossary map[string]string) *Result {
	srcLower := strings.ToLower(sourceText)
	transLower := strings.ToLower(translatedText)
	for term, rendering := range glossary {
		if !strings.Contains(srcLower, strings.ToLower(term)) {
			continue
		}
		if !strings.Contains(transLower, strings.ToLower(rendering)) {
			return &Result{
				Type: "glossary_mismatch", Passed: false, Severity: SeverityLow,
				Message: fmt.Sprintf("source uses %q but translation lacks %q", term, rendering),
			}
		}
	}
	return nil
}

// Confidence computes a non-gating, length-normalized Levenshtein
// similarity between source and candidate text. It is computed only for
// salvaged or per-entry-fallback translations, never for a clean batch
// response, where provider output is trusted as-is.
// Returns a value in [0, 1]; 1 means identical, 0 means maximally
// dissimilar relative to the longer string's length.
func Confidence(source, candidate string) float64 {
	if source == "" && candidate == "" {
		return 1
	}
	dist := levenshtein.ComputeDistance(source, candidate)
	maxLen := len([]rune(source))
	if cl := len([]rune(candidate)); cl > maxLen {
		maxLen = cl
	}
	if maxLen == 0 {
		return 1
	}
	similarity := 1 - float64(dist)/float64(maxLen)
	if similarity < 0 {
		similarity = 0
	}
	return similarity
}
