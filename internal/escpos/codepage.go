package escpos

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

const DefaultCodePage = "cp850"

const placeholder = '?'

type codePage struct {
	name  string
	table *charmap.Charmap
	// ESC t n selector understood by Epson-compatible firmware.
	selector byte
}

var codePages = map[string]codePage{
	"cp437":   {name: "cp437", table: charmap.CodePage437, selector: 0},
	"cp850":   {name: "cp850", table: charmap.CodePage850, selector: 2},
	"cp860":   {name: "cp860", table: charmap.CodePage860, selector: 3},
	"cp863":   {name: "cp863", table: charmap.CodePage863, selector: 4},
	"cp865":   {name: "cp865", table: charmap.CodePage865, selector: 5},
	"wpc1252": {name: "wpc1252", table: charmap.Windows1252, selector: 16},
	"cp858":   {name: "cp858", table: charmap.CodePage858, selector: 19},
}

var codePageAliases = map[string]string{
	"pc437":       "cp437",
	"pc850":       "cp850",
	"pc858":       "cp858",
	"pc860":       "cp860",
	"pc863":       "cp863",
	"pc865":       "cp865",
	"windows1252": "wpc1252",
	"cp1252":      "wpc1252",
	"latin1":      "wpc1252",
}

// lookupCodePage never fails: unknown names resolve to the default table.
func lookupCodePage(name string) codePage {
	key := normalizeCodePageName(name)
	if alias, ok := codePageAliases[key]; ok {
		key = alias
	}
	if cp, ok := codePages[key]; ok {
		return cp
	}
	return codePages[DefaultCodePage]
}

func normalizeCodePageName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(name)
}

// KnownCodePage reports whether name selects a table without falling back.
func KnownCodePage(name string) bool {
	key := normalizeCodePageName(name)
	if _, ok := codePageAliases[key]; ok {
		return true
	}
	_, ok := codePages[key]
	return ok
}

func (cp codePage) encodeRune(r rune) byte {
	if r < 0x20 || r == 0x7f {
		return placeholder
	}
	b, ok := cp.table.EncodeRune(r)
	// IBM tables map glyphs such as U+2190 onto control bytes (0x1B is ESC).
	if !ok || b < 0x20 || b == 0x7f {
		return placeholder
	}
	return b
}
