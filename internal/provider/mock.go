package provider

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"
)

// MockBehavior selects how MockProvider responds to a Complete call, for
// deterministic dispatcher/orchestrator tests without a live backend.
type MockBehavior int

const (
	// Working echoes every entry back translated (uppercased, as a
	// detectable transform), preserving all markers.
	Working MockBehavior = iota
	// PartialMarkers drops every other ENTRY marker, simulating a
	// provider that reformats and loses some markers.
	PartialMarkers
	// Intermittent fails every Nth call (see MockProvider.EveryN) and
	// otherwise behaves like Working.
	Intermittent
	// Failing always returns a retryable ConnectionError.
	Failing
	// AuthFailing always returns a terminal AuthError, simulating an
	// invalid or revoked API key.
	AuthFailing
	// Truncated returns only the first half of a well-formed response,
	// simulating a cut-off generation.
	Truncated
	// Empty returns an empty response body.
	Empty
	// Slow sleeps for MockProvider.Delay before responding like Working.
	Slow
)

var mockEntryMarker = regexp.MustCompile(`<<ENTRY_(\d+)>>`)

// MockProvider drives deterministic tests for the dispatcher and
// orchestrator without a live LLM backend.
type MockProvider struct {
	Behavior MockBehavior
	EveryN   int // used by Intermittent: fails on calls 1, 1+N, 1+2N, ...
	Delay    time.Duration

	mu    sync.Mutex
	calls int
}

func NewMockProvider(behavior MockBehavior) *MockProvider {
	return &MockProvider{Behavior: behavior, EveryN: 3}
}

func (m *MockProvider) Name() string { return "mock" }

// Calls reports how many times Complete has been invoked so far.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) Complete(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()

	text := ""
	if len(req.Messages) > 0 {
		text = req.Messages[len(req.Messages)-1].Content
	}

	behavior := m.Behavior
	if behavior == Intermittent {
		n := m.EveryN
		if n <= 0 {
			n = 3
		}
		if (call-1)%n == 0 {
			behavior = Failing
		} else {
			behavior = Working
		}
	}

	switch behavior {
	case Failing:
		return Response{}, &Error{Provider: m.Name(), Kind: ConnectionError, Message: "mock: simulated connection failure"}
	case AuthFailing:
		return Response{}, &Error{Provider: m.Name(), Kind: AuthError, Message: "mock: simulated invalid API key"}
	case Empty:
		return Response{Text: ""}, nil
	case Slow:
		if err := sleepWithContext(ctx, m.Delay); err != nil {
			return Response{}, err
		}
		return Response{Text: echoWorking(text)}, nil
	case PartialMarkers:
		return Response{Text: dropAlternateMarkers(echoWorking(text))}, nil
	case Truncated:
		full := echoWorking(text)
		return Response{Text: full[:len(full)/2]}, nil
	default: // Working
		return Response{Text: echoWorking(text)}, nil
	}
}

// echoWorking reproduces every <<ENTRY_i>>/<<END>> marker from the input
// verbatim and uppercases the entry text between markers, so tests can
// assert both marker fidelity and a visible transform. Input without any
// marker (a per-entry fallback request) is uppercased whole.
func echoWorking(input string) string {
	locs := mockEntryMarker.FindAllStringSubmatchIndex(input, -1)
	if len(locs) == 0 {
		return strings.ToUpper(input)
	}

	endIdx := strings.Index(input, "<<END>>")

	var b strings.Builder
	for i, loc := range locs {
		markerStart, markerEnd := loc[0], loc[1]
		b.WriteString(input[markerStart:markerEnd])
		b.WriteString("\n")

		contentEnd := endIdx
		if i+1 < len(locs) {
			contentEnd = locs[i+1][0]
		}
		if contentEnd < markerEnd {
			contentEnd = markerEnd
		}
		content := strings.TrimSpace(input[markerEnd:contentEnd])
		b.WriteString(strings.ToUpper(content))
		b.WriteString("\n")
	}
	if endIdx >= 0 {
		b.WriteString("<<END>>")
	}
	return b.String()
}

func dropAlternateMarkers(response string) string {
	lines := strings.Split(response, "\n")
	out := make([]string, 0, len(lines))
	dropped := 0
	for _, line := range lines {
		if mockEntryMarker.MatchString(line) {
			dropped++
			if dropped%2 == 0 {
				continue
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
