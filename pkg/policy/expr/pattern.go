package expr

import (
	"regexp"
	"sync"
)

// Patterns memoizes compiled whole-string regular expressions. Patterns are
// anchored so that "alice.*" matches "alice123" but not "xalice".
//
// Patterns is safe for concurrent use. The zero value is ready to use.
type Patterns struct {
	compiled sync.Map // pattern string -> *compiledPattern
}

type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// Compile returns the anchored expression for pattern. Compilation errors
// are cached too, so a bad pattern is only parsed once.
func (p *Patterns) Compile(pattern string) (*regexp.Regexp, error) {
	if v, ok := p.compiled.Load(pattern); ok {
		c := v.(*compiledPattern)
		return c.re, c.err
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	v, _ := p.compiled.LoadOrStore(pattern, &compiledPattern{re: re, err: err})
	c := v.(*compiledPattern)
	return c.re, c.err
}

// MatchString reports whether s matches pattern in its entirety.
func (p *Patterns) MatchString(pattern, s string) (bool, error) {
	re, err := p.Compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(s), nil
}
