// Package content turns a possibly incomplete assistant reply into renderable pieces. It splits text
// into plain and math runs, decides whether an observed change is worth a re-render, and renders the
// result to HTML.
//
// The math delimiter dialects are declared once in this file and shared by the segmenter, the render
// gate and the completion detector in the stream package, so every stage agrees on what "looks like
// a formula".
package content

import (
	"regexp"
	"strings"
)

// blockDialect is a delimiter pair recognized in the block scan. The expression between Open and
// Close is the bare math content.
type blockDialect struct {
	open  string
	close string
	re    *regexp.Regexp
	// positional marks dialects whose display flag depends on whether the match stands on its own
	// line, rather than on the delimiter alone.
	positional bool
}

var blockDialects = []blockDialect{
	{open: "$$", close: "$$", re: regexp.MustCompile(`\$\$([\s\S]+?)\$\$`)},
	{open: `\[`, close: `\]`, re: regexp.MustCompile(`\\\[([\s\S]+?)\\\]`)},
	{open: `\(`, close: `\)`, re: regexp.MustCompile(`\\\(([\s\S]+?)\\\)`), positional: true},
}

// environments are the named LaTeX environments treated as display math. The starred variants are
// accepted for each of them.
var environments = []string{
	"equation", "align", "aligned", "gather", "multline", "eqnarray",
	"matrix", "pmatrix", "bmatrix", "Bmatrix", "vmatrix", "Vmatrix", "smallmatrix",
	"cases", "array", "split",
}

var envBeginRe = regexp.MustCompile(`\\begin\{(` + strings.Join(environments, "|") + `)(\*?)\}`)

// commandMarkers are TeX commands that indicate structured math even before any delimiter is
// complete.
var commandMarkers = []string{
	`\begin{`, `\end{`, `\frac`, `\dfrac`, `\sqrt`, `\sum`, `\int`, `\prod`, `\lim`,
	`\left`, `\right`, `\cdot`, `\times`, `\alpha`, `\beta`, `\gamma`, `\delta`, `\mu`,
	`\sigma`, `\pi`, `\theta`, `\lambda`, `\Delta`, `\mathrm`, `\text{`, `^{`, `_{`,
}

// delimiterMarkers are the opening/closing tokens of every dialect above.
var delimiterMarkers = []string{"$$", `\[`, `\]`, `\(`, `\)`}

// HasMath reports whether text contains anything that suggests math content: a delimiter of one of the
// recognized dialects, a pair of single dollars, or a well known TeX command.
func HasMath(text string) bool {
	if strings.Count(text, "$") >= 2 {
		return true
	}
	return containsAny(text, delimiterMarkers) || containsAny(text, commandMarkers)
}

// HasMathMarker reports whether a fragment of text carries any single math token, including a lone
// dollar sign or a brace. It is meant for short appended tails, where a pair can't be expected.
func HasMathMarker(text string) bool {
	if strings.ContainsAny(text, "$\\{}^_") {
		return true
	}
	return containsAny(text, commandMarkers)
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
