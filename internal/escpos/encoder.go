// Package escpos builds ESC/POS command streams for an 80 mm, 203 dpi thermal
// receipt printer using Font A (48 columns) and a single-byte code page.
//
// The Encoder is a plain value that accumulates bytes. Directives never fail:
// unsupported input degrades to a printable substitute instead of an error,
// because a slightly odd receipt is better than no receipt.
package escpos

import (
	"strings"
	"unicode/utf8"
)

// Columns is the Font A line width of an 80 mm head at normal size.
const Columns = 48

const (
	minTextSize = 1
	maxTextSize = 8

	cutFeedLines = 4
)

const (
	esc byte = 0x1b
	gs  byte = 0x1d
	lf  byte = 0x0a
)

type Alignment string

const (
	AlignLeft   Alignment = "left"
	AlignCenter Alignment = "center"
	AlignRight  Alignment = "right"
)

type Encoder struct {
	buf      []byte
	codePage codePage
	// width is the current horizontal magnification, used for column math.
	width int
}

type Option func(*Encoder)

// WithCodePage selects the table without emitting ESC t, so that Initialize
// can still be the first directive of the stream.
func WithCodePage(name string) Option {
	return func(e *Encoder) {
		e.codePage = lookupCodePage(name)
	}
}

func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{
		codePage: lookupCodePage(DefaultCodePage),
		width:    1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize resets the printer (ESC @) and re-selects the active code page,
// which ESC @ would otherwise reset to the firmware default.
func (e *Encoder) Initialize() *Encoder {
	e.width = 1
	e.buf = append(e.buf, esc, '@')
	e.buf = append(e.buf, esc, 't', e.codePage.selector)
	return e
}

func (e *Encoder) SetCodePage(name string) *Encoder {
	e.codePage = lookupCodePage(name)
	e.buf = append(e.buf, esc, 't', e.codePage.selector)
	return e
}

// CodePage returns the canonical name of the active table.
func (e *Encoder) CodePage() string {
	return e.codePage.name
}

func (e *Encoder) Align(a Alignment) *Encoder {
	var n byte
	switch a {
	case AlignCenter:
		n = 1
	case AlignRight:
		n = 2
	}
	e.buf = append(e.buf, esc, 'a', n)
	return e
}

// SetTextSize sets the character magnification. Both factors are clamped to
// [1,8] and packed as (width-1)<<4 | (height-1).
func (e *Encoder) SetTextSize(width, height int) *Encoder {
	width = clamp(width, minTextSize, maxTextSize)
	height = clamp(height, minTextSize, maxTextSize)
	e.width = width
	e.buf = append(e.buf, gs, '!', byte((width-1)<<4|(height-1)))
	return e
}

func (e *Encoder) SetBold(on bool) *Encoder {
	e.buf = append(e.buf, esc, 'E', flag(on))
	return e
}

func (e *Encoder) SetUnderline(on bool) *Encoder {
	e.buf = append(e.buf, esc, '-', flag(on))
	return e
}

func (e *Encoder) SetInverse(on bool) *Encoder {
	e.buf = append(e.buf, gs, 'B', flag(on))
	return e
}

// Text writes s through the active code page, one byte per character, and
// terminates the line.
func (e *Encoder) Text(s string) *Encoder {
	for _, r := range s {
		e.buf = append(e.buf, e.codePage.encodeRune(r))
	}
	e.buf = append(e.buf, lf)
	return e
}

func (e *Encoder) NewLine(n int) *Encoder {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		e.buf = append(e.buf, lf)
	}
	return e
}

// Separator fills one printed line with char. At double width half as many
// characters cover the same 48 columns.
func (e *Encoder) Separator(char rune) *Encoder {
	if char == 0 {
		char = '-'
	}
	return e.Text(strings.Repeat(string(char), e.lineWidth()))
}

func (e *Encoder) DoubleSeparator() *Encoder {
	return e.Separator('=')
}

// Columns prints left and right justified on one line, padded with fill.
// When both do not fit with at least one fill character between them, left
// is printed on its own line and right is right-aligned on the next one.
func (e *Encoder) Columns(left, right string, fill rune) *Encoder {
	if fill == 0 {
		fill = ' '
	}
	width := e.lineWidth()
	l := utf8.RuneCountInString(left)
	r := utf8.RuneCountInString(right)

	if l+r+1 <= width {
		return e.Text(left + strings.Repeat(string(fill), width-l-r) + right)
	}

	e.Text(left)
	pad := width - r
	if pad < 0 {
		pad = 0
	}
	return e.Text(strings.Repeat(" ", pad) + right)
}

// WrapText word-wraps s at maxLen columns (the line width when maxLen is out
// of range) and prints every resulting line.
func (e *Encoder) WrapText(s string, maxLen int) *Encoder {
	width := e.lineWidth()
	if maxLen <= 0 || maxLen > width {
		maxLen = width
	}
	for _, line := range Wrap(s, maxLen) {
		e.Text(line)
	}
	return e
}

// Cut feeds the paper past the blade and cuts it.
func (e *Encoder) Cut(partial bool) *Encoder {
	e.NewLine(cutFeedLines)
	mode := byte(0)
	if partial {
		mode = 1
	}
	e.buf = append(e.buf, gs, 'V', mode)
	return e
}

func (e *Encoder) Build() []byte {
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	return out
}

// Clear empties the buffer so the encoder can be reused. The selected code
// page survives.
func (e *Encoder) Clear() *Encoder {
	e.buf = e.buf[:0]
	e.width = 1
	return e
}

func (e *Encoder) lineWidth() int {
	return Columns / e.width
}

// Wrap splits s into lines of at most maxLen characters. Words are only
// broken when a single word is longer than maxLen. Each newline in s starts a
// new paragraph.
func Wrap(s string, maxLen int) []string {
	if maxLen < 1 {
		maxLen = Columns
	}
	var lines []string
	for _, para := range strings.Split(s, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}

		var cur []rune
		for _, word := range words {
			w := []rune(word)
			if len(w) > maxLen {
				if len(cur) > 0 {
					lines = append(lines, string(cur))
					cur = nil
				}
				for len(w) > maxLen {
					lines = append(lines, string(w[:maxLen]))
					w = w[maxLen:]
				}
			}
			if len(w) == 0 {
				continue
			}
			switch {
			case len(cur) == 0:
				cur = append(cur, w...)
			case len(cur)+1+len(w) <= maxLen:
				cur = append(cur, ' ')
				cur = append(cur, w...)
			default:
				lines = append(lines, string(cur))
				cur = append([]rune(nil), w...)
			}
		}
		if len(cur) > 0 {
			lines = append(lines, string(cur))
		}
	}
	return lines
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func flag(on bool) byte {
	if on {
		return 1
	}
	return 0
}
