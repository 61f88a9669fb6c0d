package phrase

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const defaultIterationLimit = 30

type rule interface {
	apply(input string) (output string, changed bool)
}

// Rules rewrites sanitized transcripts with user substitutions. Each line of a
// rules file is either "from => to" (literal, case-insensitive) or a sed-style
// "s/pattern/replacement/flags" expression. Blank lines and # comments are skipped.
type Rules struct {
	list  []rule
	limit int
}

// LoadRules reads rules from path. A blank path or a missing file yields an
// empty rule set.
func LoadRules(path string, limit int) (*Rules, error) {
	if strings.TrimSpace(path) == "" {
		return &Rules{limit: normalizeLimit(limit)}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Rules{limit: normalizeLimit(limit)}, nil
		}
		return nil, fmt.Errorf("read rules file %q: %w", path, err)
	}

	rules, err := ParseRules(string(contents), limit)
	if err != nil {
		return nil, fmt.Errorf("parse rules file %q: %w", path, err)
	}
	return rules, nil
}

// ParseRules compiles rules from their textual form.
func ParseRules(contents string, limit int) (*Rules, error) {
	out := &Rules{limit: normalizeLimit(limit)}
	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parsed, err := parseRule(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		out.list = append(out.list, parsed)
	}
	return out, nil
}

// Len returns the number of compiled rules.
func (r *Rules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.list)
}

// Apply runs every rule until the text stops changing or the iteration limit is hit.
func (r *Rules) Apply(text string) string {
	if r.Len() == 0 {
		return text
	}
	for i := 0; i < r.limit; i++ {
		changed := false
		for _, rl := range r.list {
			if next, ok := rl.apply(text); ok {
				text = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return text
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultIterationLimit
	}
	return limit
}

func parseRule(line string) (rule, error) {
	if isSubstitution(line) {
		return parseSubstitution(line)
	}
	if from, to, ok := strings.Cut(line, "=>"); ok {
		from = strings.TrimSpace(from)
		if from == "" {
			return nil, errors.New("literal rule source cannot be empty")
		}
		re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(from))
		return substitution{re: re, replacement: strings.TrimSpace(to), global: true}, nil
	}
	return nil, errors.New("unsupported rule format")
}

// substitution replaces the first match, or every match when global is set.
type substitution struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func (s substitution) apply(input string) (string, bool) {
	if s.global {
		output := s.re.ReplaceAllString(input, s.replacement)
		return output, output != input
	}
	loc := s.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	var expanded []byte
	expanded = s.re.ExpandString(expanded, s.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

func isSubstitution(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordOrSpace(line[1])
}

func isWordOrSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// parseSubstitution compiles "s<d>pattern<d>replacement<d>flags". Matching is
// case-insensitive unless the pattern itself overrides it.
func parseSubstitution(line string) (rule, error) {
	delim := line[1]
	fields, rest, err := splitDelimited(line[2:], delim, 2)
	if err != nil {
		return nil, err
	}

	global := false
	prefix := "i"
	for _, flag := range strings.TrimSpace(rest) {
		switch flag {
		case 'g':
			global = true
		case 'i':
		case 'm', 's':
			prefix += string(flag)
		case ' ':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + prefix + ")" + fields[0])
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return substitution{re: re, replacement: fields[1], global: global}, nil
}

// splitDelimited reads n delimiter-terminated fields. Escaped delimiters lose
// their backslash; other escapes are kept for the regex engine.
func splitDelimited(input string, delim byte, n int) ([]string, string, error) {
	fields := make([]string, 0, n)
	var current strings.Builder
	for i := 0; i < len(input); i++ {
		c := input[i]
		if c == '\\' && i+1 < len(input) {
			next := input[i+1]
			if next != delim {
				current.WriteByte(c)
			}
			current.WriteByte(next)
			i++
			continue
		}
		if c != delim {
			current.WriteByte(c)
			continue
		}
		fields = append(fields, current.String())
		current.Reset()
		if len(fields) == n {
			return fields, input[i+1:], nil
		}
	}
	return nil, "", errors.New("unterminated expression")
}
