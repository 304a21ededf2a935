package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// Mode selects masking behaviour. Development mode makes Sanitize the
// identity function so local debugging sees real values.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// Marker strings substituted for values the traversal cannot or must not
// reproduce. These are part of the output contract and asserted by tests.
const (
	MarkerCircular    = "[CIRCULAR]"
	MarkerMaxDepth    = "[MAX_DEPTH_EXCEEDED]"
	MarkerFunction    = "[Function]"
	MarkerChannel     = "[Channel]"
	MarkerPointer     = "[Pointer]"
	MarkerBinary      = "[Binary Data]"
	MarkerAccessError = "[Error accessing property]"
	MarkerMasked      = "***[MASKED]***"
)

// DefaultMaxDepth bounds traversal below which values collapse to
// MarkerMaxDepth.
const DefaultMaxDepth = 50

// Rule replaces matches of a pattern inside string values. Exactly one of a
// regex pattern or a case-insensitive literal is set; literals are compiled
// to a quoted case-insensitive regex at construction so application is a
// single sweep either way.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Literal     string
	Replacement string
	Enabled     bool
	Description string
}

// RegexRule builds an enabled rule from a regex source. The pattern is
// compiled with Go's global-replacement semantics (ReplaceAllString).
func RegexRule(name, pattern, replacement, description string) Rule {
	return Rule{
		Name:        name,
		Pattern:     regexp.MustCompile(pattern),
		Replacement: replacement,
		Enabled:     true,
		Description: description,
	}
}

// LiteralRule builds an enabled rule that replaces every case-insensitive
// occurrence of the literal substring.
func LiteralRule(name, literal, replacement, description string) Rule {
	return Rule{
		Name:        name,
		Pattern:     regexp.MustCompile(`(?i)` + regexp.QuoteMeta(literal)),
		Literal:     literal,
		Replacement: replacement,
		Enabled:     true,
		Description: description,
	}
}

// Policy is the full masking configuration. Policies are treated as
// immutable once installed in a Sanitizer; mutators clone and swap.
type Policy struct {
	Mode            Mode
	Enabled         bool
	StrictMode      bool
	Rules           []Rule
	CustomRules     []Rule
	SensitiveFields []string
	MaxDepth        int
}

// DefaultSensitiveFields marks a field as entirely maskable when its
// lowercased name contains any of these substrings, regardless of value.
var DefaultSensitiveFields = []string{
	"password", "passwd", "secret", "token", "apikey", "api_key",
	"authorization", "credential", "private", "ssn",
	"credit_card", "creditcard", "cvv", "pin",
}

// defaultRules returns the built-in rule set in application order. Later
// rules see the output of earlier rules, so replacements are chosen to never
// re-match (verified by ValidatePolicy at construction).
//
// The ipv4 rule ships disabled: the access tracker needs real IPs in logs
// and stats; masking them is a caller policy, not a default.
func defaultRules() []Rule {
	rules := []Rule{
		RegexRule("email",
			`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`,
			`***@***.***`,
			"email addresses"),
		RegexRule("phone",
			`\+?\d(?:[\s\-().]?\d){9,}`,
			`***-***-****`,
			"phone-like runs of 10 or more digits"),
		RegexRule("credit_card",
			`\b\d{4}[\s\-]?\d{4}[\s\-]?\d{4}[\s\-]?\d{4}\b`,
			`****-****-****-****`,
			"16-digit card numbers"),
		RegexRule("ssn",
			`\b\d{3}-\d{2}-\d{4}\b`,
			`***-**-****`,
			"US social security numbers"),
		LiteralRule("password",
			"password",
			`[REDACTED]`,
			"the literal word password"),
		RegexRule("api_key",
			`\b[A-Za-z0-9_\-]{32,}\b`,
			`[API_KEY]`,
			"API-key-like tokens of 32+ word characters"),
		RegexRule("jwt",
			`\beyJ[A-Za-z0-9_\-]*\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\b`,
			`[JWT]`,
			"three-segment base64url JWTs"),
		RegexRule("national_id",
			`\b\d{9,12}\b`,
			`[ID_NUMBER]`,
			"national id numbers (9-12 digits)"),
		RegexRule("bank_account",
			`\b\d{10,20}\b`,
			`[ACCOUNT_NUMBER]`,
			"bank account numbers (10-20 digits)"),
		RegexRule("ipv4",
			`\b(?:\d{1,3}\.){3}\d{1,3}\b`,
			`***.***.***.***`,
			"IPv4 addresses"),
	}
	// disabled by default, see above
	for i := range rules {
		if rules[i].Name == "ipv4" {
			rules[i].Enabled = false
		}
	}
	return rules
}

// DefaultPolicy returns the built-in policy for the given mode.
func DefaultPolicy(mode Mode) *Policy {
	return &Policy{
		Mode:            mode,
		Enabled:         true,
		Rules:           defaultRules(),
		SensitiveFields: append([]string(nil), DefaultSensitiveFields...),
		MaxDepth:        DefaultMaxDepth,
	}
}

// ValidatePolicy checks rule-name uniqueness and rule non-interference: no
// enabled rule may match any enabled rule's replacement string (including
// its own), otherwise sanitization would not be idempotent. Policies are
// rejected before installation so the failure surfaces at configuration
// time, not mid-traversal.
func ValidatePolicy(p *Policy) error {
	if p == nil {
		return fmt.Errorf("policy is nil")
	}
	if p.MaxDepth <= 0 {
		return fmt.Errorf("max depth must be positive, got %d", p.MaxDepth)
	}
	all := p.allRules()
	names := make(map[string]struct{}, len(all))
	for _, r := range all {
		if r.Name == "" {
			return fmt.Errorf("rule with empty name")
		}
		if r.Pattern == nil {
			return fmt.Errorf("rule %q has no compiled pattern", r.Name)
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("duplicate rule name %q", r.Name)
		}
		names[r.Name] = struct{}{}
	}
	for _, ri := range all {
		if !ri.Enabled {
			continue
		}
		for _, rj := range all {
			if !rj.Enabled {
				continue
			}
			if ri.Pattern.MatchString(rj.Replacement) {
				return fmt.Errorf("rule %q matches replacement of rule %q (%q): output would re-match",
					ri.Name, rj.Name, rj.Replacement)
			}
		}
	}
	return nil
}

// allRules returns built-ins followed by custom rules, the application order.
func (p *Policy) allRules() []Rule {
	out := make([]Rule, 0, len(p.Rules)+len(p.CustomRules))
	out = append(out, p.Rules...)
	return append(out, p.CustomRules...)
}

// active reports whether the policy gates traversal on (enabled and not in
// development mode).
func (p *Policy) active() bool {
	return p.Enabled && p.Mode != ModeDevelopment
}

// isSensitiveField reports whether the lowercased field name contains any
// configured sensitive substring.
func (p *Policy) isSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range p.SensitiveFields {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// clone returns a deep-enough copy for copy-on-write mutation: rule slices
// and the field list are copied, compiled patterns are shared (immutable).
func (p *Policy) clone() *Policy {
	out := *p
	out.Rules = append([]Rule(nil), p.Rules...)
	out.CustomRules = append([]Rule(nil), p.CustomRules...)
	out.SensitiveFields = append([]string(nil), p.SensitiveFields...)
	return &out
}
