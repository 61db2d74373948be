package content

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// MathRenderer renders one math expression to markup. Implementations must tolerate malformed or
// partial expressions; errors and panics are turned into an inline error marker by the Renderer.
// Display math may land inside a paragraph or list item, so the markup must be phrasing content.
type MathRenderer interface {
	RenderMath(expr string, block bool) (string, error)
}

// Renderer renders a buffer to HTML. Text runs go through goldmark, math runs through a MathRenderer.
type Renderer struct {
	md   goldmark.Markdown
	math MathRenderer

	logger *slog.Logger
}

const errLoggerKey = "err"

// placeholderPrefix marks where rendered math is substituted back into the markdown output. Tokens are
// made of letters and digits only so goldmark passes them through untouched, and carry a nonce per
// render so text in the reply can't be mistaken for one.
const placeholderPrefix = "WWMATHSEG"

// NewRenderer creates a Renderer with GitHub flavored markdown and syntax highlighting for code blocks.
// If math is nil, KaTeXMarkup is used.
func NewRenderer(math MathRenderer, logger *slog.Logger) Renderer {
	if math == nil {
		math = KaTeXMarkup{}
	}
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
			),
		),
		goldmark.WithRendererOptions(
			gmhtml.WithHardWraps(),
		),
	)
	return Renderer{
		md:     md,
		math:   math,
		logger: logger.With(slog.String("module", "content")),
	}
}

// Render segments text, renders every math segment, and converts the rest as markdown. A failing math
// expression is replaced by an error marker showing the raw expression; it doesn't stop the rest of
// the buffer from rendering.
func (r Renderer) Render(text string) (string, error) {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")

	var src strings.Builder
	var placed []placedMath
	for _, s := range Split(text) {
		if s.Kind == KindText {
			src.WriteString(s.Text)
			continue
		}
		token := placeholderPrefix + nonce + "N" + strconv.Itoa(len(placed)) + "X"
		src.WriteString(token)
		placed = append(placed, placedMath{
			token: token,
			html:  r.renderMath(s),
			block: s.Block,
		})
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src.String()), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}

	out := buf.String()
	for _, m := range placed {
		if m.block {
			// Display math breaks the line itself.
			out = strings.Replace(out, "<p>"+m.token+"</p>", m.html, 1)
			out = strings.Replace(out, "<br>\n"+m.token, m.token, 1)
			out = strings.Replace(out, m.token+"<br>", m.token, 1)
		}
		out = strings.Replace(out, m.token, m.html, 1)
	}
	return out, nil
}

type placedMath struct {
	token string
	html  string
	block bool
}

func (r Renderer) renderMath(s Segment) (res string) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("Math renderer panicked",
				slog.String("expr", s.Text),
				slog.String(errLoggerKey, fmt.Sprint(p)))
			res = mathError(s)
		}
	}()

	out, err := r.math.RenderMath(s.Text, s.Block)
	if err != nil {
		r.logger.Warn("Failed to render math",
			slog.String("expr", s.Text),
			slog.String(errLoggerKey, err.Error()))
		return mathError(s)
	}
	return out
}

func mathError(s Segment) string {
	return fmt.Sprintf(`<code class="math-error" title="invalid expression">%s</code>`, html.EscapeString(s.Raw()))
}

// KaTeXMarkup emits escaped TeX wrapped in KaTeX auto-render delimiters, leaving typesetting to the
// browser. It rejects expressions with unbalanced braces so they show up as errors instead of breaking
// the client renderer.
type KaTeXMarkup struct{}

// ErrUnbalancedBraces is returned for an expression whose braces don't pair up.
var ErrUnbalancedBraces = errors.New("unbalanced braces")

// RenderMath implements MathRenderer.
func (KaTeXMarkup) RenderMath(expr string, block bool) (string, error) {
	if !balanced(expr) {
		return "", ErrUnbalancedBraces
	}
	tex := html.EscapeString(expr)
	if block {
		return `<span class="math math-block">\[` + tex + `\]</span>`, nil
	}
	return `<span class="math math-inline">\(` + tex + `\)</span>`, nil
}

func balanced(expr string) bool {
	depth := 0
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '\\':
			// Skip escaped characters such as \{ and \}.
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}
