package batch

import "github.com/lsilvatti/subtrans/internal/subtitle"

// MinCharsPerBatch is the effective floor on max_chars_per_request: even a
// smaller configured value is clamped up to this.
const MinCharsPerBatch = 100

// Batch is an ordered group of source entries sent to a provider in one
// marker-framed request. Batch identities are scoped to a single dispatch
// run and are not persisted.
type Batch struct {
	Index   int
	Entries []subtitle.Entry
}

// Pack greedily groups ordered entries by cumulative character count up to
// maxChars (clamped to at least MinCharsPerBatch). Entries are never
// reordered or split; a single entry whose own text already exceeds
// maxChars gets a batch of its own.
func Pack(entries []subtitle.Entry, maxChars int) []Batch {
	if maxChars < MinCharsPerBatch {
		maxChars = MinCharsPerBatch
	}

	var batches []Batch
	var current []subtitle.Entry
	currentChars := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, Batch{Index: len(batches), Entries: current})
		current = nil
		currentChars = 0
	}

	for _, e := range entries {
		n := len(e.Text)
		if len(current) > 0 && currentChars+n > maxChars {
			flush()
		}
		current = append(current, e)
		currentChars += n
	}
	flush()

	return batches
}
