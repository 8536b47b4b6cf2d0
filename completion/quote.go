package completion

import "strings"

// thinkingQuoter renders interleaved thinking and text chunks into one stream, with
// thinking shown as block-quoted lines. State carries across chunks.
type thinkingQuoter struct {
	started    bool
	inThinking bool
	lineStart  bool
}

func (q *thinkingQuoter) thinking(chunk string) string {
	if chunk == "" {
		return ""
	}
	var b strings.Builder
	if !q.inThinking {
		if q.started {
			b.WriteString("\n\n")
		}
		q.inThinking = true
		q.lineStart = true
	}
	for _, r := range chunk {
		if q.lineStart {
			b.WriteString("> ")
			q.lineStart = false
		}
		b.WriteRune(r)
		if r == '\n' {
			q.lineStart = true
		}
	}
	q.started = true
	return b.String()
}

func (q *thinkingQuoter) text(chunk string) string {
	if chunk == "" {
		return ""
	}
	if q.inThinking {
		q.inThinking = false
		q.started = true
		return "\n\n" + chunk
	}
	q.started = true
	return chunk
}
