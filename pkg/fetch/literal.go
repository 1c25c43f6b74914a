package fetch

import (
	"bytes"
	"fmt"
)

// literalToJSON rewrites a serialized literal (single-quoted strings, None,
// True, False, nan, tuples, trailing commas) as JSON. Valid JSON passes
// through unchanged.
func literalToJSON(src []byte) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(src))

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\'' || c == '"':
			next, err := writeString(&out, src, i)
			if err != nil {
				return nil, err
			}
			i = next
		case c == '(':
			out.WriteByte('[')
			i++
		case c == ')' || c == ']' || c == '}':
			trimTrailingComma(&out)
			if c == ')' {
				c = ']'
			}
			out.WriteByte(c)
			i++
		case c == '-' && i+1 < len(src) && isLetter(src[i+1]):
			// -inf
			i++
		case isDigit(c) || c == '-' || c == '.':
			j := i
			for j < len(src) && isNumberByte(src[j]) {
				j++
			}
			out.Write(src[i:j])
			i = j
		case isLetter(c):
			j := i
			for j < len(src) && (isLetter(src[j]) || isDigit(src[j])) {
				j++
			}
			word, err := literalWord(string(src[i:j]))
			if err != nil {
				return nil, fmt.Errorf("offset %d: %w", i, err)
			}
			out.WriteString(word)
			i = j
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.Bytes(), nil
}

func literalWord(w string) (string, error) {
	switch w {
	case "None", "null", "nan", "NaN", "inf", "Infinity":
		return "null", nil
	case "True", "true":
		return "true", nil
	case "False", "false":
		return "false", nil
	}
	return "", fmt.Errorf("unexpected identifier %q", w)
}

// writeString copies the string starting at src[i] as a JSON string and
// returns the offset after its closing quote.
func writeString(out *bytes.Buffer, src []byte, i int) (int, error) {
	quote := src[i]
	out.WriteByte('"')
	for i++; i < len(src); {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src):
			if src[i+1] == '\'' {
				out.WriteByte('\'')
			} else {
				out.Write(src[i : i+2])
			}
			i += 2
		case c == quote:
			out.WriteByte('"')
			return i + 1, nil
		case c == '"':
			out.WriteString(`\"`)
			i++
		default:
			out.WriteByte(c)
			i++
		}
	}
	return 0, fmt.Errorf("unterminated string")
}

func trimTrailingComma(out *bytes.Buffer) {
	b := out.Bytes()
	j := len(b)
	for j > 0 && (b[j-1] == ' ' || b[j-1] == '\n' || b[j-1] == '\t' || b[j-1] == '\r') {
		j--
	}
	if j > 0 && b[j-1] == ',' {
		out.Truncate(j - 1)
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isNumberByte(c byte) bool {
	return isDigit(c) || c == '.' || c == '-' || c == '+' || c == 'e' || c == 'E'
}
