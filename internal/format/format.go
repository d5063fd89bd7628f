// Package format re-applies subtitle formatting markup that an LLM
// translation commonly drops or mangles, using the source entry as the
// reference for what should be present.
package format

import (
	"regexp"
	"strings"
)

// Preserve runs four passes in order: position tags, language indicators,
// line-break re-splitting, then style-tag reapplication. Applying Preserve
// to its own output is the identity.
func Preserve(source, translated string) string {
	out := translated
	out = reapplyPositionTag(source, out)
	out = reapplyLanguageIndicator(source, out)
	out = reapplyLineBreaks(source, out)
	out = reapplyStyleTags(source, out)
	return out
}

var positionTagPattern = regexp.MustCompile(`^\{\\an[1-9]\}`)

// reapplyPositionTag prepends the source's leading {\anN} tag to the
// translation's first line when the translation lacks one entirely.
func reapplyPositionTag(source, translated string) string {
	tag := positionTagPattern.FindString(source)
	if tag == "" {
		return translated
	}
	if positionTagPattern.MatchString(translated) {
		return translated
	}
	return tag + translated
}

var languageIndicatorPattern = regexp.MustCompile(`\[[A-Z][A-Z ]*\]`)

// reapplyLanguageIndicator restores a bracketed language indicator (e.g.
// "[IN SPANISH]") to its original source form when the LLM translated the
// indicator text itself instead of leaving it verbatim.
func reapplyLanguageIndicator(source, translated string) string {
	srcTag := languageIndicatorPattern.FindString(source)
	if srcTag == "" {
		return translated
	}
	if strings.Contains(translated, srcTag) {
		return translated
	}
	if translatedTag := languageIndicatorPattern.FindString(translated); translatedTag != "" {
		return strings.Replace(translated, translatedTag, srcTag, 1)
	}
	return translated
}

// reapplyLineBreaks re-splits a translation that collapsed the source's
// multi-line structure into one line, proportionally by character count;
// it merges trailing lines into the last source-aligned line when the
// translation has more lines than the source.
func reapplyLineBreaks(source, translated string) string {
	srcLines := strings.Split(source, "\n")
	if len(srcLines) <= 1 {
		return translated
	}
	translatedLines := strings.Split(translated, "\n")

	switch {
	case len(translatedLines) == 1:
		return splitProportionally(translatedLines[0], srcLines)
	case len(translatedLines) > len(srcLines):
		head := translatedLines[:len(srcLines)-1]
		tail := strings.Join(translatedLines[len(srcLines)-1:], " ")
		return strings.Join(append(append([]string{}, head...), tail), "\n")
	default:
		return translated
	}
}

func splitProportionally(text string, srcLines []string) string {
	srcLens := make([]int, len(srcLines))
	srcTotal := 0
	for i, l := range srcLines {
		srcLens[i] = len([]rune(l))
		srcTotal += srcLens[i]
	}
	if srcTotal == 0 {
		return text
	}

	runes := []rune(text)
	out := make([]string, len(srcLines))
	pos := 0
	for i := range srcLines {
		var portion int
		if i == len(srcLines)-1 {
			portion = len(runes) - pos
		} else {
			portion = int(float64(srcLens[i]) / float64(srcTotal) * float64(len(runes)))
		}
		end := pos + portion
		if end > len(runes) {
			end = len(runes)
		}
		if end < pos {
			end = pos
		}
		out[i] = strings.TrimSpace(string(runes[pos:end]))
		pos = end
	}
	return strings.Join(out, "\n")
}

// tagPair is one style-tag wrapping style recognized across SRT/SSA/markdown.
type tagPair struct {
	open  string
	close string
}

var stylePairs = []tagPair{
	{"<i>", "</i>"}, {"<b>", "</b>"}, {"<u>", "</u>"},
	{`{\i1}`, `{\i0}`}, {`{\b1}`, `{\b0}`}, {`{\u1}`, `{\u0}`},
	{"**", "**"}, {"*", "*"}, {"_", "_"},
}

// reapplyStyleTags wraps the translation in whichever style-tag pair
// entirely wraps the source's trimmed content, if the translation doesn't
// already carry it, then collapses any doubled tags left behind. Any
// leading position tag already prepended by reapplyPositionTag is set
// aside first so the style wrap lands around the translated content, not
// around the position tag itself.
func reapplyStyleTags(source, translated string) string {
	trimmedSrc := strings.TrimSpace(stripPositionTag(source))

	posTag := positionTagPattern.FindString(translated)
	out := strings.TrimPrefix(translated, posTag)

	for _, p := range stylePairs {
		if strings.HasPrefix(trimmedSrc, p.open) && strings.HasSuffix(trimmedSrc, p.close) && len(trimmedSrc) >= len(p.open)+len(p.close) {
			if !(strings.HasPrefix(strings.TrimSpace(out), p.open) && strings.HasSuffix(strings.TrimSpace(out), p.close)) {
				out = p.open + out + p.close
			}
		}
	}

	// Font tags carry attributes, so they are matched by prefix rather
	// than as a fixed pair; the source's opening tag is reused verbatim.
	if open := fontTagPattern.FindString(trimmedSrc); open != "" && strings.HasSuffix(trimmedSrc, "</font>") {
		if !strings.Contains(out, "<font") {
			out = open + out + "</font>"
		}
	}

	return posTag + collapseDoubledTags(out)
}

var fontTagPattern = regexp.MustCompile(`^<font[^>]*>`)

func stripPositionTag(s string) string {
	return positionTagPattern.ReplaceAllString(s, "")
}

var doubledTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<i><i>(.*?)</i></i>`),
	regexp.MustCompile(`<b><b>(.*?)</b></b>`),
	regexp.MustCompile(`<u><u>(.*?)</u></u>`),
}

func collapseDoubledTags(text string) string {
	out := text
	for _, re := range doubledTagPatterns {
		for re.MatchString(out) {
			out = re.ReplaceAllString(out, wrapFromPattern(re, out))
		}
	}
	return out
}

func wrapFromPattern(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return text
	}
	tag := re.String()
	switch {
	case strings.HasPrefix(tag, `<i>`):
		return "<i>" + m[1] + "</i>"
	case strings.HasPrefix(tag, `<b>`):
		return "<b>" + m[1] + "</b>"
	default:
		return "<u>" + m[1] + "</u>"
	}
}
