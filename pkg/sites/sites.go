package sites

import (
	"regexp"
	"strings"
)

// Rule pairs a destination URL pattern with the CSS selector of that
// service's composer input. The selector is carried for the browser side;
// routing here only uses the pattern.
type Rule struct {
	URLPattern string `json:"url_pattern"`
	Selector   string `json:"selector"`
}

// DefaultRules lists the chat services supported out of the box.
func DefaultRules() []Rule {
	return []Rule{
		{URLPattern: "gemini\\.google\\.com", Selector: `div[contenteditable="true"]`},
		{URLPattern: "chatgpt\\.com", Selector: "#prompt-textarea"},
		{URLPattern: "claude\\.ai", Selector: `div[contenteditable="true"]`},
	}
}

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp // nil when the pattern is not a valid regexp
}

// Matcher decides whether a page URL belongs to a supported destination
// service. Patterns are tried as regexps first; an invalid pattern falls
// back to substring matching so a plain hostname still works.
type Matcher struct {
	rules []compiledRule
}

func NewMatcher(rules []Rule) *Matcher {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{rule: r}
		if re, err := regexp.Compile(r.URLPattern); err == nil {
			cr.re = re
		}
		compiled = append(compiled, cr)
	}
	return &Matcher{rules: compiled}
}

// Match returns the first rule whose pattern matches rawURL.
func (m *Matcher) Match(rawURL string) (Rule, bool) {
	for _, cr := range m.rules {
		if cr.matches(rawURL) {
			return cr.rule, true
		}
	}
	return Rule{}, false
}

// Supported reports whether rawURL belongs to any supported destination.
func (m *Matcher) Supported(rawURL string) bool {
	_, ok := m.Match(rawURL)
	return ok
}

func (cr compiledRule) matches(rawURL string) bool {
	if cr.re != nil {
		return cr.re.MatchString(rawURL)
	}
	return cr.rule.URLPattern != "" && strings.Contains(rawURL, cr.rule.URLPattern)
}
