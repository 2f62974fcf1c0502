package migrate

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/veilbox/veil/internal/backend"
)

// Pair is one name/value line from a plaintext env file, in
// declaration order.
type Pair struct {
	Name  string
	Value []byte
	Line  int
}

// Malformed records a line the parser could not accept. Malformed
// lines never abort the parse; they are reported per-line.
type Malformed struct {
	Line   int
	Reason string
}

// ParseEnvFile reads line-oriented KEY=VALUE pairs. Blank lines and
// lines starting with # are skipped; a leading "export " is stripped;
// single or double quotes around the value are removed when they
// match. Declaration order is preserved, duplicates included, so
// re-imports are deterministic.
func ParseEnvFile(r io.Reader) ([]Pair, []Malformed, error) {
	var pairs []Pair
	var bad []Malformed

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		eq := strings.Index(line, "=")
		if eq <= 0 {
			bad = append(bad, Malformed{Line: lineNo, Reason: "not a KEY=VALUE pair"})
			continue
		}

		name := strings.TrimSpace(line[:eq])
		if err := backend.ValidateName(name); err != nil {
			bad = append(bad, Malformed{Line: lineNo, Reason: err.Error()})
			continue
		}

		value := strings.TrimSpace(line[eq+1:])
		value = unquote(value)

		pairs = append(pairs, Pair{Name: name, Value: []byte(value), Line: lineNo})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read source: %w", err)
	}

	return pairs, bad, nil
}

func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
