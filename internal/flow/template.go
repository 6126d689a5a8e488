package flow

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/BotPipe/internal/models"
)

// Render substitutes {name} references in tmpl with values from vars.
// References to missing keys are left verbatim and returned in missing.
// "{{" and "}}" produce literal braces.
func Render(tmpl string, vars models.Context) (out string, missing []string) {
	if !strings.ContainsAny(tmpl, "{}") {
		return tmpl, nil
	}

	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '{':
			end := referenceEnd(tmpl, i+1)
			if end < 0 {
				b.WriteByte(c)
				continue
			}
			name := tmpl[i+1 : end]
			if v, ok := vars.Lookup(name); ok {
				b.WriteString(v.String())
			} else {
				b.WriteString(tmpl[i : end+1])
				missing = append(missing, name)
			}
			i = end
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), missing
}

// referenceEnd returns the index of the '}' closing a reference that starts at
// i, or -1 if tmpl[i:] does not begin with an identifier followed by '}'.
func referenceEnd(tmpl string, i int) int {
	start := i
	for i < len(tmpl) {
		r, size := utf8.DecodeRuneInString(tmpl[i:])
		if !isIdentRune(r) {
			break
		}
		i += size
	}
	if i == start || i >= len(tmpl) || tmpl[i] != '}' {
		return -1
	}
	return i
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '.' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
