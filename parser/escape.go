package parser

import "strings"

// cleanupString resolves the escape sequences the lexer leaves untouched
// inside raw string and character literal text. It mirrors the original
// assembler's two-pass cleanup: first, any embedded literal newline is
// collapsed along with the whitespace around it into either nothing (if
// it follows an escaped "\n") or a single space; second, the remaining
// backslash escapes (\\, \", \', \n) are resolved to their one-character
// equivalents.
//
// It returns the cleaned text and, if an unrecognized escape sequence is
// present, the byte offset of the backslash that introduced it; a return
// value of -1 means no bad escape was found.
func cleanupString(raw string) (string, int) {
	collapsed := collapseEmbeddedNewlines(raw)

	var out strings.Builder
	out.Grow(len(collapsed))
	for i := 0; i < len(collapsed); i++ {
		c := collapsed[i]
		if c != '\\' {
			out.WriteByte(c)
			continue
		}
		if i+1 >= len(collapsed) {
			return out.String(), i
		}
		switch collapsed[i+1] {
		case '"', '\'', '\\':
			out.WriteByte(collapsed[i+1])
		case 'n':
			out.WriteByte('\n')
		default:
			return out.String(), i
		}
		i++
	}
	return out.String(), -1
}

// collapseEmbeddedNewlines removes literal newline characters that appear
// inside a string/character literal along with surrounding whitespace. A
// newline preceded by an escaped "\n" (still written as the two raw
// characters '\\','n' at this point, since escape resolution hasn't run
// yet) is dropped entirely, so a line-continuation inside a literal joins
// the two halves with nothing between them; otherwise the run of
// whitespace around the embedded newline collapses to one space.
func collapseEmbeddedNewlines(s string) string {
	var out strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != '\n' {
			out.WriteByte(s[i])
			i++
			continue
		}

		// Trim trailing whitespace already written to out.
		written := out.String()
		trimmed := strings.TrimRight(written, " \t")
		precededByEscapedN := strings.HasSuffix(trimmed, "\\n")

		// Skip the newline and any following whitespace in s.
		j := i + 1
		for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
			j++
		}

		out.Reset()
		out.WriteString(trimmed)
		if !precededByEscapedN {
			out.WriteByte(' ')
		}
		i = j
	}
	return out.String()
}
