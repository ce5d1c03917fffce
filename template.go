package sqlmap

import (
	"fmt"
	"strconv"
	"strings"
)

// Template is the parsed, driver-ready form of a SQL string.
// The Nth positional placeholder in SQL() corresponds to Names()[N]; a name
// used several times in the source appears once per occurrence.
// Templates are immutable and safe to share.
type Template struct {
	source string
	text   string
	names  []string
}

// Source returns the SQL text the template was parsed from.
func (t *Template) Source() string { return t.source }

// SQL returns the rewritten text with positional placeholders.
func (t *Template) SQL() string { return t.text }

// Len returns the number of positional placeholders.
func (t *Template) Len() int { return len(t.names) }

// Names returns the placeholder names in occurrence order, duplicates included.
func (t *Template) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Distinct returns each placeholder name once, in first-occurrence order.
func (t *Template) Distinct() []string {
	seen := make(map[string]struct{}, len(t.names))
	out := make([]string, 0, len(t.names))
	for _, n := range t.names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Parse parses q for the given dialect without caching. Most callers should
// use (*Executor).Parse, which caches templates by their SQL text.
func Parse(dialect Dialect, q string, cfg ...Config) (*Template, error) {
	return parse(dialect, q, defaultConfig(dialect, cfg...))
}

// Parse returns the template for q, parsing it on first use.
func (ex *Executor) Parse(q string) (*Template, error) {
	if t, ok := ex.templates.Get(q); ok {
		return t, nil
	}
	t, err := parse(ex.dialect, q, ex.config)
	if err != nil {
		return nil, err
	}
	ex.templates.Add(q, t)
	ex.log.Debug().Int("params", len(t.names)).Msg("template parsed")
	return t, nil
}

// parse walks the input SQL once, substitutes :name placeholders with
// dialect-specific positional ones and records the names in order. Quoted
// strings, identifiers, comments and dollar-quoted bodies are copied verbatim.
func parse(dialect Dialect, q string, config Config) (*Template, error) {
	if strings.TrimSpace(q) == "" {
		return nil, &TemplateError{Pos: -1, Reason: "empty statement"}
	}

	// Rough estimate for number of placeholders (not exact, but helps sizing).
	est := strings.Count(q, ":") - 2*strings.Count(q, "::")
	if est < 0 {
		est = 0
	}
	names := make([]string, 0, est)

	var buf strings.Builder
	// Small oversizing to reduce reallocations; some dialects emit longer tokens.
	extraPer := 1
	switch dialect {
	case Postgres, SQLServer:
		extraPer = 4
	}
	buf.Grow(len(q) + 16 + est*extraPer)

	var dqTag string // active dollar-quoted tag (Postgres-like)
	opened := 0      // offset where the current non-text state started
	escapes := false // backslash escapes the next byte in the current quote

	// State machine for safe parsing through strings, comments, identifiers, etc.
	const (
		sText = iota
		sSQ   // '...'
		sDQ   // "..."
		sBT   // `...` (MySQL/SQLite)
		sBR   // [...] (SQL Server)
		sLC   // line comment -- or # (MySQL only)
		sBC   // block comment /* ... */
		sDQD  // $tag$ ... $tag$ (dollar-quoted)
	)
	state := sText

	for i := 0; i < len(q); {
		c := q[i]

		switch state {
		case sText:
			opened = i
			// Enter/exit helper states while preserving the raw text
			if c == '-' && i+1 < len(q) && q[i+1] == '-' {
				state = sLC
				buf.WriteString("--")
				i += 2
				continue
			}
			if c == '#' && dialect == MySQL {
				state = sLC
				buf.WriteByte('#')
				i++
				continue
			}
			if c == '/' && i+1 < len(q) && q[i+1] == '*' {
				state = sBC
				buf.WriteString("/*")
				i += 2
				continue
			}
			if c == '\'' {
				state = sSQ
				escapes = dialect == MySQL || (dialect == Postgres && escapeStringPrefix(q, i))
				buf.WriteByte(c)
				i++
				continue
			}
			if c == '"' {
				state = sDQ
				escapes = dialect == MySQL
				buf.WriteByte(c)
				i++
				continue
			}
			if c == '`' && (dialect == MySQL || dialect == SQLite) {
				state = sBT
				buf.WriteByte(c)
				i++
				continue
			}
			if c == '[' && dialect == SQLServer {
				state = sBR
				buf.WriteByte(c)
				i++
				continue
			}
			if c == '$' {
				if tag, ok := readDollarTag(q[i:]); ok {
					state = sDQD
					dqTag = tag
					buf.WriteString(tag)
					i += len(tag)
					continue
				}
			}

			if c != ':' {
				buf.WriteByte(c)
				i++
				continue
			}

			// '::' casts (and longer runs of colons) are never placeholders.
			j := i + 1
			for j < len(q) && q[j] == ':' {
				j++
			}
			if j-i > 1 {
				buf.WriteString(q[i:j])
				i = j
				continue
			}

			if j < len(q) && isAlpha(q[j]) {
				k := j + 1
				for k < len(q) && isAlphaNumUnderscore(q[k]) {
					k++
				}
				name := q[j:k]

				if config.MaxNameLen > 0 && len(name) > config.MaxNameLen {
					return nil, &TemplateError{Pos: i, Reason: fmt.Sprintf("parameter name %q too long (%d > %d)", name, len(name), config.MaxNameLen)}
				}
				if config.MaxParams > 0 && len(names)+1 > config.MaxParams {
					return nil, &TemplateError{Pos: i, Reason: fmt.Sprintf("too many parameters (limit %d)", config.MaxParams)}
				}

				names = append(names, name)
				writePlaceholder(&buf, dialect, len(names))
				i = k
				continue
			}

			// Stray marker: nothing that looks like a name follows.
			if config.StrictMarkers {
				return nil, &TemplateError{Pos: i, Reason: "':' not followed by a parameter name"}
			}
			buf.WriteByte(c)
			i++

		case sSQ:
			if c == '\\' && escapes {
				buf.WriteByte(c)
				i++
				if i < len(q) {
					buf.WriteByte(q[i])
					i++
				}
				continue
			}
			buf.WriteByte(c)
			i++
			if c == '\'' {
				if i < len(q) && q[i] == '\'' {
					buf.WriteByte(q[i])
					i++
				} else {
					state = sText
				}
			}

		case sDQ:
			if c == '\\' && escapes {
				buf.WriteByte(c)
				i++
				if i < len(q) {
					buf.WriteByte(q[i])
					i++
				}
				continue
			}
			buf.WriteByte(c)
			i++
			if c == '"' {
				if i < len(q) && q[i] == '"' {
					buf.WriteByte(q[i])
					i++
				} else {
					state = sText
				}
			}

		case sBT:
			buf.WriteByte(c)
			i++
			if c == '`' {
				if i < len(q) && q[i] == '`' {
					buf.WriteByte(q[i])
					i++
				} else {
					state = sText
				}
			}

		case sBR:
			buf.WriteByte(c)
			i++
			if c == ']' {
				if i < len(q) && q[i] == ']' {
					buf.WriteByte(q[i])
					i++
				} else {
					state = sText
				}
			}

		case sLC:
			buf.WriteByte(c)
			i++
			if c == '\n' || c == '\r' {
				state = sText
			}

		case sBC:
			buf.WriteByte(c)
			i++
			if c == '*' && i < len(q) && q[i] == '/' {
				buf.WriteByte('/')
				i++
				state = sText
			}

		case sDQD:
			p := strings.Index(q[i:], dqTag)
			if p < 0 {
				buf.WriteString(q[i:])
				i = len(q)
			} else {
				buf.WriteString(q[i : i+p])
				buf.WriteString(dqTag)
				i += p + len(dqTag)
				dqTag = ""
				state = sText
			}
		}
	}

	if config.StrictMarkers {
		switch state {
		case sSQ, sDQ, sBT, sBR:
			return nil, &TemplateError{Pos: opened, Reason: "unterminated quoted text"}
		case sBC:
			return nil, &TemplateError{Pos: opened, Reason: "unterminated block comment"}
		case sDQD:
			return nil, &TemplateError{Pos: opened, Reason: "unterminated dollar-quoted text"}
		}
	}

	return &Template{source: q, text: buf.String(), names: names}, nil
}

// escapeStringPrefix reports whether the quote at q[i] opens a PostgreSQL
// E'...' literal, the only string form where backslash escapes apply.
func escapeStringPrefix(q string, i int) bool {
	if i == 0 || (q[i-1] != 'E' && q[i-1] != 'e') {
		return false
	}
	return i == 1 || !isAlphaNumUnderscore(q[i-2])
}

// writePlaceholder emits a dialect-specific placeholder token for argument idx.
func writePlaceholder(b *strings.Builder, d Dialect, idx int) {
	switch d {
	case Postgres:
		b.WriteByte('$')
		var tmp [20]byte
		n := strconv.AppendInt(tmp[:0], int64(idx), 10)
		b.Write(n)
	case SQLServer:
		b.WriteString("@p")
		var tmp [20]byte
		n := strconv.AppendInt(tmp[:0], int64(idx), 10)
		b.Write(n)
	default: // MySQL, SQLite
		b.WriteByte('?')
	}
}

// isAlpha reports whether b is [A-Za-z].
func isAlpha(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// isAlphaNumUnderscore reports whether b is [A-Za-z0-9_] .
func isAlphaNumUnderscore(b byte) bool {
	return isAlpha(b) || b == '_' || (b >= '0' && b <= '9')
}

// readDollarTag detects a dollar-quoted opening tag ("$tag$") at the start of s.
// It returns the full tag (e.g. "$tag$") and true if found.
func readDollarTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	j := 1
	for j < len(s) && isAlphaNumUnderscore(s[j]) {
		j++
	}
	if j < len(s) && s[j] == '$' {
		return s[:j+1], true
	}
	return "", false
}
