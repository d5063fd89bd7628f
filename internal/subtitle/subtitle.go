// Package subtitle reads and writes the SRT subtitle format, the one
// concrete file format the pipeline depends on; richer formats stay the
// collaborator's responsibility.
package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Entry is one immutable source subtitle line: (seq_num, start_ms, end_ms,
// text). Ordering is by SeqNum and must be preserved end-to-end.
type Entry struct {
	SeqNum  uint32
	StartMs uint64
	EndMs   uint64
	Text    string
}

var timeRegexp = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2})[,.](\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2})[,.](\d{3})`)

// ParseFile reads an SRT file. It tolerates trailing whitespace, CRLF line
// endings, and both comma and dot millisecond separators.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open subtitle file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads SRT blocks from r.
func Parse(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)

	var entries []Entry
	var cur Entry
	var text strings.Builder
	state := 0 // 0=index, 1=timing, 2=text

	flush := func() {
		cur.Text = strings.TrimRight(text.String(), "\n")
		if cur.Text != "" {
			entries = append(entries, cur)
		}
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch state {
		case 0:
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			seq, err := strconv.ParseUint(trimmed, 10, 32)
			if err != nil {
				continue
			}
			cur = Entry{SeqNum: uint32(seq)}
			state = 1

		case 1:
			m := timeRegexp.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			cur.StartMs = msFromParts(m[1], m[2], m[3], m[4])
			cur.EndMs = msFromParts(m[5], m[6], m[7], m[8])
			text.Reset()
			state = 2

		case 2:
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				flush()
				state = 0
				continue
			}
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(strings.TrimRight(line, " \t"))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read subtitle file: %w", err)
	}
	if state == 2 && text.Len() > 0 {
		flush()
	}

	return entries, nil
}

func msFromParts(hh, mm, ss, mmm string) uint64 {
	h, _ := strconv.ParseUint(hh, 10, 64)
	m, _ := strconv.ParseUint(mm, 10, 64)
	s, _ := strconv.ParseUint(ss, 10, 64)
	ms, _ := strconv.ParseUint(mmm, 10, 64)
	return ((h*60+m)*60+s)*1000 + ms
}

func formatMs(ms uint64) string {
	total := ms
	millis := total % 1000
	total /= 1000
	secs := total % 60
	total /= 60
	mins := total % 60
	hours := total / 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, mins, secs, millis)
}

// Write serializes entries to the SRT format, preserving each entry's own
// SeqNum and timestamps unchanged from the source.
func Write(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%d\n", e.SeqNum)
		fmt.Fprintf(&b, "%s --> %s\n", formatMs(e.StartMs), formatMs(e.EndMs))
		b.WriteString(e.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

// WriteFile writes entries to path in SRT format, UTF-8 encoded.
func WriteFile(path string, entries []Entry) error {
	return os.WriteFile(path, []byte(Write(entries)), 0o644)
}
