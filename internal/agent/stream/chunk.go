package stream

import "strings"

const paragraphBreak = "\n\n"

// SplitParagraphs splits text on blank lines. Every piece but the last keeps
// its trailing break, and empty pieces are skipped, so concatenating the
// result gives back text.
func SplitParagraphs(text string) []string {
	parts := strings.Split(text, paragraphBreak)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += paragraphBreak
		}
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Paragrapher buffers streamed deltas and releases whole paragraphs.
type Paragrapher struct {
	buf strings.Builder
}

// Write adds delta and returns the paragraphs completed by it.
func (p *Paragrapher) Write(delta string) []string {
	p.buf.WriteString(delta)
	pending := p.buf.String()
	idx := strings.LastIndex(pending, paragraphBreak)
	if idx < 0 {
		return nil
	}

	ready, rest := pending[:idx+len(paragraphBreak)], pending[idx+len(paragraphBreak):]
	p.buf.Reset()
	p.buf.WriteString(rest)
	return SplitParagraphs(ready)
}

// Flush returns whatever is buffered.
func (p *Paragrapher) Flush() []string {
	rest := p.buf.String()
	p.buf.Reset()
	return SplitParagraphs(rest)
}
