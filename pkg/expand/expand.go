// Package expand turns a command template plus ordered parameter groups into
// the ordered list of concrete commands submitted as one array job.
//
// A template carries one `{}` placeholder per parameter group. Commands are
// produced in Cartesian product order with the last group varying fastest;
// the 1-based position of a command in the result is its task index.
//
// Substitution is plain positional string replacement. No escaping or shell
// quoting is applied to tokens: callers that need shell-safe commands must
// quote the tokens themselves.
package expand

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Placeholder is the positional marker replaced by one token per group.
const Placeholder = "{}"

// TemplateArityError reports a mismatch between the number of placeholders
// in a template and the number of parameter groups supplied.
type TemplateArityError struct {
	Placeholders int
	Groups       int
}

func (e *TemplateArityError) Error() string {
	return fmt.Sprintf("template has %d placeholder(s) but %d parameter group(s) were given", e.Placeholders, e.Groups)
}

// IsTemplateArity reports whether err is (or wraps) a TemplateArityError.
func IsTemplateArity(err error) bool {
	var target *TemplateArityError
	return errors.As(err, &target)
}

// Group is one ordered parameter group.
//
// Exactly one of Tokens or File is meaningful: when File is set the group is
// read from that file, one token per line.
type Group struct {
	Tokens []string
	File   string
}

// Literal builds a group by splitting s on whitespace.
func Literal(s string) Group {
	return Group{Tokens: strings.Fields(s)}
}

// Values builds a group from explicit tokens.
func Values(tokens ...string) Group {
	return Group{Tokens: append([]string(nil), tokens...)}
}

// FromFile builds a group whose tokens are the lines of path.
func FromFile(path string) Group {
	return Group{File: path}
}

// Resolve returns the group's tokens, reading the backing file if needed.
//
// File lines keep their leading whitespace; trailing whitespace is stripped.
// A missing file yields an error satisfying errors.Is(err, fs.ErrNotExist).
func (g Group) Resolve() ([]string, error) {
	if strings.TrimSpace(g.File) == "" {
		return g.Tokens, nil
	}

	f, err := os.Open(g.File)
	if err != nil {
		return nil, fmt.Errorf("open parameter file %s: %w", g.File, err)
	}
	defer func() { _ = f.Close() }()

	var tokens []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimRight(scanner.Text(), " \t\r\n\v\f"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read parameter file %s: %w", g.File, err)
	}
	return tokens, nil
}

// CountPlaceholders returns the number of `{}` markers in template.
func CountPlaceholders(template string) int {
	return strings.Count(template, Placeholder)
}

// Expand validates arity, resolves every group and returns the product
// commands in last-group-fastest order.
func Expand(template string, groups ...Group) ([]string, error) {
	if n := CountPlaceholders(template); n != len(groups) {
		return nil, &TemplateArityError{Placeholders: n, Groups: len(groups)}
	}

	resolved := make([][]string, len(groups))
	for i, g := range groups {
		tokens, err := g.Resolve()
		if err != nil {
			return nil, err
		}
		resolved[i] = tokens
	}

	return Product(template, resolved), nil
}

// Product substitutes every combination of tokens into template.
//
// The caller guarantees len(tokens) equals the placeholder count. An empty
// group makes the product empty; zero groups yield the template itself.
func Product(template string, tokens [][]string) []string {
	total := 1
	for _, group := range tokens {
		total *= len(group)
	}
	if total == 0 {
		return []string{}
	}

	pieces := strings.Split(template, Placeholder)
	out := make([]string, 0, total)
	idx := make([]int, len(tokens))

	for {
		var b strings.Builder
		b.WriteString(pieces[0])
		for g, i := range idx {
			b.WriteString(tokens[g][i])
			b.WriteString(pieces[g+1])
		}
		out = append(out, b.String())

		// Odometer increment, last position fastest.
		pos := len(idx) - 1
		for ; pos >= 0; pos-- {
			idx[pos]++
			if idx[pos] < len(tokens[pos]) {
				break
			}
			idx[pos] = 0
		}
		if pos < 0 {
			return out
		}
	}
}
