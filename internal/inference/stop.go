package inference

import "strings"

// StopMatcher finds stop sequences in streamed text. Pieces are pushed as
// they arrive; text that could still turn into a stop sequence is held back
// until a later piece resolves it. Matched stop text is never emitted.
type StopMatcher struct {
	stops []string
	held  string
}

// NewStopMatcher ignores empty stop strings.
func NewStopMatcher(stops []string) *StopMatcher {
	m := &StopMatcher{}
	for _, s := range stops {
		if s != "" {
			m.stops = append(m.stops, s)
		}
	}
	return m
}

// Push adds piece and returns the text that is now safe to emit. When a stop
// sequence completes, stopped is true and emit holds only the text before it.
func (m *StopMatcher) Push(piece string) (emit string, stopped bool) {
	if len(m.stops) == 0 {
		return piece, false
	}
	buf := m.held + piece

	at := -1
	for _, s := range m.stops {
		if i := strings.Index(buf, s); i >= 0 && (at < 0 || i < at) {
			at = i
		}
	}
	if at >= 0 {
		m.held = ""
		return buf[:at], true
	}

	keep := m.partialSuffix(buf)
	m.held = buf[len(buf)-keep:]
	return buf[:len(buf)-keep], false
}

// Flush returns and clears the held text. Call it when generation ends for
// any reason other than a stop match.
func (m *StopMatcher) Flush() string {
	h := m.held
	m.held = ""
	return h
}

// Held reports how many bytes are currently withheld.
func (m *StopMatcher) Held() int {
	return len(m.held)
}

// partialSuffix is the length of the longest suffix of buf that is a proper
// prefix of some stop sequence.
func (m *StopMatcher) partialSuffix(buf string) int {
	best := 0
	for _, s := range m.stops {
		n := min(len(s)-1, len(buf))
		for k := n; k > best; k-- {
			if strings.HasSuffix(buf, s[:k]) {
				best = k
				break
			}
		}
	}
	return best
}
