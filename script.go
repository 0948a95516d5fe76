package mssql

import (
	"strconv"
	"strings"
)

// SplitScript splits text at top-level "GO" batch boundaries, the way
// sqlcmd/osql and every T-SQL tool does: GO must appear alone on its
// line (optionally followed by a repeat count, "GO 3"), and is not
// recognised inside a string literal, a bracketed identifier, or a
// comment. Generalises the teacher's own ad-hoc trailing-GO stripping
// in examples/iaul/iaul.go into a full scanner, since a client driving
// arbitrary scripts can't assume GO only ever appears as the very last
// line of input.
//
// Each returned batch is repeated according to its trailing repeat
// count (default 1); a batch consisting only of whitespace and "--"
// line comments is dropped. A batch holding only a /* */ block comment
// is not recognised as empty and is returned.
func SplitScript(text string) []string {
	lines := splitLinesKeepEnds(text)

	var batches []string
	var cur strings.Builder

	var inSingle, inDouble, inBracket bool
	var inBlockComment bool

	for _, line := range lines {
		if repeat, isGo := goBoundary(line, inSingle, inDouble, inBracket, inBlockComment); isGo {
			batch := cur.String()
			if strings.TrimSpace(stripComments(batch)) != "" {
				for i := 0; i < repeat; i++ {
					batches = append(batches, batch)
				}
			}
			cur.Reset()
			continue
		}
		cur.WriteString(line)
		scanLineState(line, &inSingle, &inDouble, &inBracket, &inBlockComment)
	}

	if tail := strings.TrimRight(cur.String(), "\r\n \t"); strings.TrimSpace(stripComments(tail)) != "" {
		batches = append(batches, tail)
	}
	return batches
}

// goBoundary reports whether line is (once trimmed) a standalone GO
// statement, valid only outside any open string/bracket/comment state
// carried in from previous lines.
func goBoundary(line string, inSingle, inDouble, inBracket, inBlockComment bool) (repeat int, ok bool) {
	if inSingle || inDouble || inBracket || inBlockComment {
		return 0, false
	}
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return 0, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "GO") {
		return 0, false
	}
	if len(fields) == 1 {
		return 1, true
	}
	if len(fields) == 2 {
		if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// scanLineState advances the string/bracket/line-comment/block-comment
// state machine across one line's runes, mutating the carry-in state
// for the next line's goBoundary/scanLineState calls.
func scanLineState(line string, inSingle, inDouble, inBracket, inBlockComment *bool) {
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		if *inBlockComment {
			if r == '*' && next == '/' {
				*inBlockComment = false
				i++
			}
			continue
		}
		if *inSingle {
			if r == '\'' {
				if next == '\'' {
					i++
				} else {
					*inSingle = false
				}
			}
			continue
		}
		if *inDouble {
			if r == '"' {
				if next == '"' {
					i++
				} else {
					*inDouble = false
				}
			}
			continue
		}
		if *inBracket {
			if r == ']' {
				*inBracket = false
			}
			continue
		}

		switch {
		case r == '-' && next == '-':
			return // line comment: nothing else on this line matters
		case r == '/' && next == '*':
			*inBlockComment = true
			i++
		case r == '\'':
			*inSingle = true
		case r == '"':
			*inDouble = true
		case r == '[':
			*inBracket = true
		}
	}
}

// stripComments removes "--" line comments for the purpose of testing
// whether a batch is empty; it is not a general-purpose comment
// stripper and is never used on text actually sent to the server.
func stripComments(s string) string {
	var out strings.Builder
	for _, line := range splitLinesKeepEnds(s) {
		if idx := strings.Index(line, "--"); idx >= 0 {
			out.WriteString(line[:idx])
		} else {
			out.WriteString(line)
		}
	}
	return out.String()
}

// splitLinesKeepEnds splits s into lines, keeping the trailing newline
// on each line (except possibly the last) so batches can be
// reassembled byte-for-byte.
func splitLinesKeepEnds(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
