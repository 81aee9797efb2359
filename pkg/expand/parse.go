package expand

import (
	"errors"
	"strings"
)

const (
	// LiteralSeparator introduces a whitespace-split literal group.
	LiteralSeparator = ":::"

	// FileSeparator introduces a group read from a file, one token per line.
	FileSeparator = "::::"
)

// ErrEmptyTemplate is returned when a command line has no template text.
var ErrEmptyTemplate = errors.New("command template is empty")

// ParseCommandLine splits the psub command mini-language into a template and
// its parameter groups:
//
//	echo {} -k {} ::: a b :::: names.txt
//
// `:::` starts a literal group and `::::` a file group.
func ParseCommandLine(line string) (string, []Group, error) {
	parts := strings.Split(line, LiteralSeparator)
	template := strings.TrimSpace(parts[0])
	if template == "" {
		return "", nil, ErrEmptyTemplate
	}

	groups := make([]Group, 0, len(parts)-1)
	for _, arg := range parts[1:] {
		// "::::" splits as ":::" followed by a leading ":".
		if strings.HasPrefix(arg, ":") {
			groups = append(groups, FromFile(strings.TrimSpace(arg[1:])))
			continue
		}
		groups = append(groups, Literal(arg))
	}

	return template, groups, nil
}

// ExpandCommandLine parses line and expands it.
func ExpandCommandLine(line string) ([]string, error) {
	template, groups, err := ParseCommandLine(line)
	if err != nil {
		return nil, err
	}
	return Expand(template, groups...)
}
