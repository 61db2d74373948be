package content

import (
	"regexp"
	"slices"
	"strings"
)

// SegmentKind identifies what a segment contains.
type SegmentKind string

const (
	// KindText is a run of plain (markdown) text.
	KindText SegmentKind = "text"
	// KindMath is a math expression with its delimiters stripped.
	KindMath SegmentKind = "math"
)

// Segment is one typed run of a text buffer. Segments are derived from a snapshot of the buffer and
// never persisted.
type Segment struct {
	Kind SegmentKind
	// Text is the plain text for KindText, or the bare expression for KindMath.
	Text string
	// Block is true for display math.
	Block bool

	// Open and Close are the delimiters removed from a math expression. Named environments keep their
	// \begin and \end inside Text, so both are empty for them.
	Open  string
	Close string
}

// Raw returns the segment as it appeared in the source text, delimiters included.
func (s Segment) Raw() string {
	return s.Open + s.Text + s.Close
}

type mathMatch struct {
	start, end  int
	open, close string
	block       bool
}

// Split splits text into an ordered list of plain text and math segments. Concatenating the Raw form of
// the segments gives back text exactly.
//
// Unterminated delimiters never match, so a buffer cut in the middle of a formula yields plain text
// for the incomplete part until the closing delimiter arrives. Delimiters inside code spans and fenced
// code blocks are not math. Empty text segments are omitted.
func Split(text string) []Segment {
	if text == "" {
		return nil
	}

	// Scans run over the masked copy; expressions are cut from text at the same offsets.
	masked := maskCode(text, codeRanges(text))
	blocks := blockMatches(masked)

	var inlines []mathMatch
	for _, m := range inlineMatches(masked) {
		if insideAny(m.start, blocks) {
			continue
		}
		inlines = append(inlines, m)
	}

	all := append(blocks, inlines...)
	slices.SortStableFunc(all, func(a, b mathMatch) int {
		return a.start - b.start
	})

	var segments []Segment
	pos := 0
	for _, m := range all {
		// Dialects may overlap (a \(..\) inside $$..$$); the earliest match owns the span.
		if m.start < pos {
			continue
		}
		if m.start > pos {
			segments = append(segments, Segment{Kind: KindText, Text: text[pos:m.start]})
		}
		segments = append(segments, Segment{
			Kind:  KindMath,
			Text:  text[m.start+len(m.open) : m.end-len(m.close)],
			Block: m.block,
			Open:  m.open,
			Close: m.close,
		})
		pos = m.end
	}
	if pos < len(text) {
		segments = append(segments, Segment{Kind: KindText, Text: text[pos:]})
	}

	return segments
}

// Join rebuilds the source text from segments.
func Join(segments []Segment) string {
	var sb strings.Builder
	for _, s := range segments {
		sb.WriteString(s.Raw())
	}
	return sb.String()
}

func blockMatches(text string) []mathMatch {
	var matches []mathMatch

	for _, d := range blockDialects {
		for _, loc := range d.re.FindAllStringSubmatchIndex(text, -1) {
			if strings.TrimSpace(text[loc[2]:loc[3]]) == "" {
				continue
			}
			block := true
			if d.positional {
				block = ownLine(text, loc[0], loc[1])
			}
			matches = append(matches, mathMatch{
				start: loc[0],
				end:   loc[1],
				open:  d.open,
				close: d.close,
				block: block,
			})
		}
	}

	return append(matches, environmentMatches(text)...)
}

// environmentMatches finds \begin{env}...\end{env} spans, balancing nested environments of the same
// name.
func environmentMatches(text string) []mathMatch {
	var matches []mathMatch

	for _, loc := range envBeginRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[loc[2]:loc[3]] + text[loc[4]:loc[5]]
		end := matchingEnd(text, loc[1], name)
		if end < 0 {
			continue
		}
		matches = append(matches, mathMatch{
			start: loc[0],
			end:   end,
			block: true,
		})
	}

	return matches
}

func matchingEnd(text string, from int, name string) int {
	begin := `\begin{` + name + `}`
	end := `\end{` + name + `}`

	depth := 1
	pos := from
	for depth > 0 {
		nextEnd := strings.Index(text[pos:], end)
		if nextEnd < 0 {
			return -1
		}
		nextBegin := strings.Index(text[pos:], begin)
		if nextBegin >= 0 && nextBegin < nextEnd {
			depth++
			pos += nextBegin + len(begin)
			continue
		}
		depth--
		pos += nextEnd + len(end)
	}
	return pos
}

// inlineMatches scans for single-dollar spans on one line. The opening dollar must be followed by a
// non-space and the closing one preceded by a non-space and not followed by a digit, so amounts like
// "$5 and $10" stay text.
func inlineMatches(text string) []mathMatch {
	var matches []mathMatch

	for i := 0; i < len(text); i++ {
		if text[i] != '$' || escaped(text, i) {
			continue
		}
		if i+1 < len(text) && text[i+1] == '$' {
			i++
			continue
		}
		if i+1 >= len(text) || isSpace(text[i+1]) {
			continue
		}

		j := i + 1
		for ; j < len(text); j++ {
			if text[j] == '\n' || (text[j] == '$' && !escaped(text, j)) {
				break
			}
		}
		if j >= len(text) || text[j] != '$' {
			continue
		}
		if isSpace(text[j-1]) {
			continue
		}
		if j+1 < len(text) && (text[j+1] == '$' || isDigit(text[j+1])) {
			continue
		}

		matches = append(matches, mathMatch{
			start: i,
			end:   j + 1,
			open:  "$",
			close: "$",
		})
		i = j
	}

	return matches
}

func insideAny(offset int, spans []mathMatch) bool {
	for _, s := range spans {
		if s.start < offset && offset < s.end {
			return true
		}
	}
	return false
}

var blankRe = regexp.MustCompile(`^[ \t]*$`)

// ownLine reports whether the span [start, end) is the only non-blank content on its line(s). A line
// whose break hasn't arrived yet may still grow, so it doesn't count.
func ownLine(text string, start, end int) bool {
	lineStart := strings.LastIndexByte(text[:start], '\n') + 1
	lineEnd := strings.IndexByte(text[end:], '\n')
	if lineEnd < 0 {
		return false
	}
	lineEnd += end
	return blankRe.MatchString(text[lineStart:start]) && blankRe.MatchString(text[end:lineEnd])
}

func escaped(text string, i int) bool {
	n := 0
	for k := i - 1; k >= 0 && text[k] == '\\'; k-- {
		n++
	}
	return n%2 == 1
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
