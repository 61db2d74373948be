package content

import "strings"

// codeRanges returns the byte spans of fenced code blocks and backtick code spans in text, in order. A
// fence that has not been closed yet runs to the end of text, the same way markdown renders it.
func codeRanges(text string) [][2]int {
	var ranges [][2]int

	gap := 0
	for pos := 0; pos < len(text); {
		lineEnd := lineEndAt(text, pos)
		marker, ok := fenceOpen(text[pos:lineEnd])
		if !ok {
			pos = lineEnd + 1
			continue
		}
		ranges = codeSpans(text, gap, pos, ranges)
		end := fenceClose(text, lineEnd, marker)
		ranges = append(ranges, [2]int{pos, end})
		gap, pos = end, end+1
	}

	return codeSpans(text, gap, len(text), ranges)
}

// maskCode replaces every byte of the given ranges except line breaks with a backtick, so delimiter
// scans over the result never see what is inside code while offsets stay aligned with text.
func maskCode(text string, ranges [][2]int) string {
	if len(ranges) == 0 {
		return text
	}
	b := []byte(text)
	for _, r := range ranges {
		for i := r[0]; i < r[1]; i++ {
			if b[i] != '\n' {
				b[i] = '`'
			}
		}
	}
	return string(b)
}

// fenceOpen reports whether line opens a fenced code block and returns its fence.
func fenceOpen(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" || (trimmed[0] != '`' && trimmed[0] != '~') {
		return "", false
	}
	n := runLen(trimmed, 0, len(trimmed))
	if n < 3 {
		return "", false
	}
	if trimmed[0] == '`' && strings.Contains(trimmed[n:], "`") {
		return "", false
	}
	return trimmed[:n], true
}

// fenceClose returns the end of the line closing a fence opened on the line ending at openEnd, or the
// end of text.
func fenceClose(text string, openEnd int, marker string) int {
	for pos := openEnd + 1; pos < len(text); {
		lineEnd := lineEndAt(text, pos)
		line := strings.TrimLeft(text[pos:lineEnd], " \t")
		if strings.HasPrefix(line, marker) && strings.TrimSpace(strings.TrimLeft(line, marker[:1])) == "" {
			return lineEnd
		}
		pos = lineEnd + 1
	}
	return len(text)
}

// codeSpans appends the backtick code spans found in text[start:end]. A span closes on a run of the
// same length and never crosses a blank line; an opener without a closer is literal.
func codeSpans(text string, start, end int, ranges [][2]int) [][2]int {
	for i := start; i < end; {
		if text[i] != '`' || escaped(text, i) {
			i++
			continue
		}
		n := runLen(text, i, end)

		closeAt := -1
		for j := i + n; j < end; {
			if text[j] == '`' {
				m := runLen(text, j, end)
				if m == n {
					closeAt = j
					break
				}
				j += m
				continue
			}
			if strings.HasPrefix(text[j:end], "\n\n") {
				break
			}
			j++
		}

		if closeAt < 0 {
			i += n
			continue
		}
		ranges = append(ranges, [2]int{i, closeAt + n})
		i = closeAt + n
	}
	return ranges
}

func runLen(s string, i, end int) int {
	n := 0
	for i+n < end && s[i+n] == s[i] {
		n++
	}
	return n
}

func lineEndAt(text string, pos int) int {
	if i := strings.IndexByte(text[pos:], '\n'); i >= 0 {
		return pos + i
	}
	return len(text)
}
