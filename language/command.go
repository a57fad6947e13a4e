package language

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// FilePlaceholder marks where the generated source filename goes in a command template.
const FilePlaceholder = "{file}"

// ParseCommand splits a command template into argv once, using shell word
// rules, and returns a builder that substitutes the filename into each word.
// The filename never passes through a shell parser.
func ParseCommand(template string) (func(filename string) []string, error) {
	words, err := shlex.Split(template)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", template, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("command template is empty")
	}

	found := false
	for _, w := range words {
		if strings.Contains(w, FilePlaceholder) {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("command %q does not reference %s", template, FilePlaceholder)
	}

	return func(filename string) []string {
		argv := make([]string, len(words))
		for i, w := range words {
			argv[i] = strings.ReplaceAll(w, FilePlaceholder, filename)
		}
		return argv
	}, nil
}

func mustParseCommand(template string) func(string) []string {
	fn, err := ParseCommand(template)
	if err != nil {
		panic(err)
	}
	return fn
}
