package filter

import (
	"regexp"
	"strings"
)

// compiledPattern is a glob compiled to a regular expression over
// slash-separated relative paths.
type compiledPattern struct {
	re       *regexp.Regexp
	original string
	anchored bool // matches from the source root only
	dirOnly  bool // trailing "/" in the pattern
}

// compilePattern compiles a glob. A leading "/" or any inner "/" anchors the
// pattern to the source root; otherwise it matches the final path segment(s)
// at any depth. "**" crosses directory boundaries, "*" and "?" do not.
func compilePattern(pattern string) (*compiledPattern, error) {
	cp := &compiledPattern{original: pattern}

	if trimmed, ok := strings.CutSuffix(pattern, "/"); ok {
		cp.dirOnly = true
		pattern = trimmed
	}
	if trimmed, ok := strings.CutPrefix(pattern, "/"); ok {
		cp.anchored = true
		pattern = trimmed
	} else if strings.Contains(pattern, "/") {
		cp.anchored = true
	}

	body := globToRegex(pattern)
	if cp.anchored {
		body = "^" + body + "$"
	} else {
		body = "(^|/)" + body + "$"
	}

	re, err := regexp.Compile(body)
	if err != nil {
		return nil, err
	}
	cp.re = re
	return cp, nil
}

func (cp *compiledPattern) match(relPath string, isDir bool) bool {
	if cp.dirOnly && !isDir {
		return false
	}
	return cp.re.MatchString(relPath)
}

func (cp *compiledPattern) String() string { return cp.original }

func globToRegex(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			if !strings.HasPrefix(pattern[i:], "**") {
				b.WriteString("[^/]*")
				continue
			}
			if strings.HasPrefix(pattern[i:], "**/") {
				b.WriteString("(.*/)?")
				i += 2
			} else {
				b.WriteString(".*")
				i++
			}
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := classEnd(pattern, i)
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : end]
			if rest, ok := strings.CutPrefix(class, "!"); ok {
				class = "^" + rest
			}
			b.WriteString("[" + class + "]")
			i = end
		default:
			if strings.IndexByte(`.()+{}^$|\]`, c) >= 0 {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		}
	}
	return b.String()
}

// classEnd returns the index of the "]" closing the class opened at start,
// or -1. A "]" directly after "[" or "[!" is a literal member.
func classEnd(pattern string, start int) int {
	j := start + 1
	if j < len(pattern) && pattern[j] == '!' {
		j++
	}
	if j < len(pattern) && pattern[j] == ']' {
		j++
	}
	if k := strings.IndexByte(pattern[j:], ']'); k >= 0 {
		return j + k
	}
	return -1
}
