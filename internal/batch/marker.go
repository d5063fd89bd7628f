package batch

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const endMarker = "<<END>>"

var entryMarkerRegexp = regexp.MustCompile(`<<ENTRY_(\d+)>>`)

// EntryMarker returns the marker line preceding entry i within a batch.
func EntryMarker(i int) string {
	return fmt.Sprintf("<<ENTRY_%d>>", i)
}

// EndMarker returns the terminal marker line.
func EndMarker() string { return endMarker }

// ValidationResult reports the outcome of checking a provider response
// against the expected marker set for a batch of expectedCount entries.
type ValidationResult struct {
	AllPresent       bool
	EndMarkerPresent bool
	OutOfOrder       bool
	ExpectedIndices  []int
	FoundIndices     []int
	MissingIndices   []int
	Err              string
}

// Passed reports overall marker-protocol success.
func (r ValidationResult) Passed() bool {
	return r.AllPresent && r.EndMarkerPresent && !r.OutOfOrder
}

// Validate checks response against the marker protocol for a batch of
// expectedCount entries.
func Validate(response string, expectedCount int) ValidationResult {
	if expectedCount == 0 {
		return ValidationResult{AllPresent: true, EndMarkerPresent: true}
	}

	expected := make([]int, expectedCount)
	for i := range expected {
		expected[i] = i
	}

	found := foundIndices(response)
	endPresent := strings.Contains(response, endMarker)

	foundSet := make(map[int]bool, len(found))
	for _, i := range found {
		foundSet[i] = true
	}
	var missing []int
	for _, i := range expected {
		if !foundSet[i] {
			missing = append(missing, i)
		}
	}

	sorted := append([]int(nil), found...)
	sort.Ints(sorted)
	outOfOrder := !equalInts(found, sorted)

	allPresent := len(missing) == 0

	var errMsg string
	switch {
	case !allPresent:
		errMsg = fmt.Sprintf("missing markers: %v", missing)
	case !endPresent:
		errMsg = "missing <<END>> marker"
	case outOfOrder:
		errMsg = "markers found out of order"
	}

	return ValidationResult{
		AllPresent:       allPresent,
		EndMarkerPresent: endPresent,
		OutOfOrder:       outOfOrder,
		ExpectedIndices:  expected,
		FoundIndices:     found,
		MissingIndices:   missing,
		Err:              errMsg,
	}
}

func foundIndices(response string) []int {
	matches := entryMarkerRegexp.FindAllStringSubmatch(response, -1)
	found := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = append(found, n)
	}
	return found
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ExtractEntryText extracts the text for entryIndex out of totalEntries
// within response. The end of an entry's text is the start of the next
// entry's marker, or <<END>> for the last entry. Returns an error if
// either boundary marker is absent.
func ExtractEntryText(response string, entryIndex, totalEntries int) (string, error) {
	startMarker := EntryMarker(entryIndex)
	end := endMarker
	if entryIndex != totalEntries-1 {
		end = EntryMarker(entryIndex + 1)
	}

	startPos := strings.Index(response, startMarker)
	if startPos < 0 {
		return "", fmt.Errorf("start marker not found: %s", startMarker)
	}
	contentStart := startPos + len(startMarker)

	relEnd := strings.Index(response[contentStart:], end)
	if relEnd < 0 {
		return "", fmt.Errorf("end marker not found: %s", end)
	}
	endPos := contentStart + relEnd

	return strings.TrimSpace(response[contentStart:endPos]), nil
}

// RecoveredEntry is one successfully salvaged entry.
type RecoveredEntry struct {
	Index int
	Text  string
}

// RecoverEntries attempts to salvage entries from a partially valid
// response. An entry is recoverable only when both its own start marker
// and its terminating marker (the next entry's start marker, or <<END>>
// for the last entry) are present; an entry whose immediate successor
// marker is missing cannot be recovered even if its own marker is intact.
func RecoverEntries(response string, expectedCount int) []RecoveredEntry {
	recovered := make([]RecoveredEntry, 0, expectedCount)
	for i := 0; i < expectedCount; i++ {
		text, err := ExtractEntryText(response, i, expectedCount)
		if err != nil {
			continue
		}
		if text == "" {
			continue
		}
		recovered = append(recovered, RecoveredEntry{Index: i, Text: text})
	}
	return recovered
}

// IsTruncated reports whether response shows signs of being cut off
// mid-generation: a missing <<END>> marker, or any missing expected
// <<ENTRY_i>> marker.
func IsTruncated(response string, expectedCount int) bool {
	if !strings.Contains(response, endMarker) {
		return true
	}
	return !Validate(response, expectedCount).AllPresent
}

// BuildRequestBody frames entries texts with the marker protocol for a
// single outgoing batch request.
func BuildRequestBody(entryTexts []string) string {
	var b strings.Builder
	for i, text := range entryTexts {
		b.WriteString(EntryMarker(i))
		b.WriteString("\n")
		b.WriteString(text)
		b.WriteString("\n")
	}
	b.WriteString(endMarker)
	return b.String()
}
