package filter

// Rule represents a single include or exclude glob rule.
type Rule struct {
	Pattern *compiledPattern
	Include bool // true=include, false=exclude
}

// Chain decides which source entries take part in a link run: an extension
// set first, then size bounds, then ordered glob rules.
type Chain struct {
	exts    *Extensions
	rules   []Rule
	minSize int64
	maxSize int64
}

// NewChain creates an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

// SetExtensions installs the extension set. nil removes it.
func (c *Chain) SetExtensions(e *Extensions) {
	c.exts = e
}

// Extensions returns the installed extension set, or nil.
func (c *Chain) Extensions() *Extensions {
	return c.exts
}

// AddExclude adds an exclude rule for the given pattern.
func (c *Chain) AddExclude(pattern string) error {
	cp, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: cp, Include: false})
	return nil
}

// AddInclude adds an include rule for the given pattern.
func (c *Chain) AddInclude(pattern string) error {
	cp, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: cp, Include: true})
	return nil
}

// SetMinSize sets the minimum file size filter.
func (c *Chain) SetMinSize(n int64) { c.minSize = n }

// SetMaxSize sets the maximum file size filter.
func (c *Chain) SetMaxSize(n int64) { c.maxSize = n }

// Empty reports whether the chain lets every entry through.
func (c *Chain) Empty() bool {
	noExts := c.exts == nil || (c.exts.Mode() == Blacklist && c.exts.Len() == 0)
	return noExts && len(c.rules) == 0 && c.minSize == 0 && c.maxSize == 0
}

// Match returns true if the entry should be INCLUDED. relPath is relative to
// the source root; size is ignored for directories, as are extensions.
func (c *Chain) Match(relPath string, isDir bool, size int64) bool {
	if !isDir {
		if c.exts != nil && !c.exts.Allows(relPath) {
			return false
		}
		if c.minSize > 0 && size < c.minSize {
			return false
		}
		if c.maxSize > 0 && size > c.maxSize {
			return false
		}
	}

	// First matching rule wins.
	for _, rule := range c.rules {
		if rule.Pattern.match(relPath, isDir) {
			return rule.Include
		}
	}

	return true
}
