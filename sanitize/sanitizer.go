// Package sanitize implements policy-driven recursive masking of personally
// identifying information in arbitrary in-memory values. The traversal
// tolerates cycles, deep nesting, and polymorphic container shapes, and
// never aborts: every failure collapses into an inline marker string.
package sanitize

import (
	"fmt"
	"reflect"
	"regexp"
	"sync"
	"time"
)

// Sanitizer applies a masking policy to values. The policy is swapped
// atomically under a write lock; in-flight traversals keep the snapshot they
// observed at entry.
type Sanitizer struct {
	mu  sync.RWMutex
	pol *Policy
}

// New constructs a Sanitizer after validating the policy.
func New(p *Policy) (*Sanitizer, error) {
	if err := ValidatePolicy(p); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return &Sanitizer{pol: p}, nil
}

// NewDefault returns a Sanitizer over the built-in policy for the given
// mode. The default policy is lint-verified, so construction cannot fail.
func NewDefault(mode Mode) *Sanitizer {
	s, err := New(DefaultPolicy(mode))
	if err != nil {
		// defaultRules is covered by TestDefaultPolicyLint; reaching this
		// means a built-in replacement regressed.
		panic(err)
	}
	return s
}

// policy returns the current snapshot.
func (s *Sanitizer) policy() *Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pol
}

// StrictMode reports whether the active policy demands PII-free metadata.
func (s *Sanitizer) StrictMode() bool {
	return s.policy().StrictMode
}

// SetPolicy validates and installs a new policy atomically.
func (s *Sanitizer) SetPolicy(p *Policy) error {
	if err := ValidatePolicy(p); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	s.mu.Lock()
	s.pol = p
	s.mu.Unlock()
	return nil
}

// SetMaxDepth swaps in a policy copy with the new traversal depth bound.
func (s *Sanitizer) SetMaxDepth(depth int) error {
	if depth <= 0 {
		return fmt.Errorf("max depth must be positive, got %d", depth)
	}
	s.mu.Lock()
	p := s.pol.clone()
	p.MaxDepth = depth
	s.pol = p
	s.mu.Unlock()
	return nil
}

// AddRule appends a custom rule (applied after built-ins) if the resulting
// policy still passes validation.
func (s *Sanitizer) AddRule(r Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pol.clone()
	p.CustomRules = append(p.CustomRules, r)
	if err := ValidatePolicy(p); err != nil {
		return fmt.Errorf("rule %q rejected: %w", r.Name, err)
	}
	s.pol = p
	return nil
}

// RemoveRule deletes a custom rule by name. Built-ins cannot be removed,
// only disabled. Reports whether a rule was removed.
func (s *Sanitizer) RemoveRule(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pol.clone()
	for i, r := range p.CustomRules {
		if r.Name == name {
			p.CustomRules = append(p.CustomRules[:i], p.CustomRules[i+1:]...)
			s.pol = p
			return true
		}
	}
	return false
}

// ToggleRule enables or disables a rule (built-in or custom) by name.
// Disabled rules are skipped but preserved. Reports whether the name matched.
func (s *Sanitizer) ToggleRule(name string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pol.clone()
	for i := range p.Rules {
		if p.Rules[i].Name == name {
			p.Rules[i].Enabled = enabled
			s.pol = p
			return true
		}
	}
	for i := range p.CustomRules {
		if p.CustomRules[i].Name == name {
			p.CustomRules[i].Enabled = enabled
			s.pol = p
			return true
		}
	}
	return false
}

// Sanitize returns a value structurally identical to v except that
// sensitive substrings and sensitive-field values are replaced. With the
// policy disabled or in development mode the input is returned unchanged.
func (s *Sanitizer) Sanitize(v any) any {
	p := s.policy()
	if !p.active() {
		return v
	}
	seen := make(map[uintptr]struct{})
	return s.walk(reflect.ValueOf(v), p, 0, seen)
}

// SanitizeString applies the string rule sweep directly, bypassing the
// traversal. Subject to the same policy gate as Sanitize.
func (s *Sanitizer) SanitizeString(in string) string {
	p := s.policy()
	if !p.active() {
		return in
	}
	return sweep(in, p)
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// stackCarrier is satisfied by errors that expose a captured stack trace as
// a string (the shape the logger's Exception emitter produces).
type stackCarrier interface {
	StackTrace() string
}

// walk is the depth-first dispatch. seen holds identity keys (pointer, map,
// slice addresses) for every non-primitive node on the current path; entries
// are removed on unwind so shared-but-acyclic nodes are not misreported and
// lifetimes are not extended past the traversal.
func (s *Sanitizer) walk(v reflect.Value, p *Policy, depth int, seen map[uintptr]struct{}) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = MarkerAccessError
		}
	}()

	if !v.IsValid() {
		return nil
	}
	if depth > p.MaxDepth {
		return MarkerMaxDepth
	}
	for v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		if rx, ok := v.Interface().(*regexp.Regexp); ok {
			return rx
		}
		addr := v.Pointer()
		if _, cyc := seen[addr]; cyc {
			return MarkerCircular
		}
		seen[addr] = struct{}{}
		defer delete(seen, addr)
		if err, ok := v.Interface().(error); ok {
			return s.errValue(err, p)
		}
		// dereference does not consume a depth level
		return s.walk(v.Elem(), p, depth, seen)

	case reflect.String:
		return sweep(v.String(), p)

	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return v.Interface()

	case reflect.Func:
		return MarkerFunction

	case reflect.Chan:
		return MarkerChannel

	case reflect.Uintptr, reflect.UnsafePointer:
		return MarkerPointer

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return MarkerBinary
		}
		addr := v.Pointer()
		if _, cyc := seen[addr]; cyc {
			return MarkerCircular
		}
		seen[addr] = struct{}{}
		defer delete(seen, addr)
		return s.walkSequence(v, p, depth, seen)

	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return MarkerBinary
		}
		return s.walkSequence(v, p, depth, seen)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if _, cyc := seen[addr]; cyc {
			return MarkerCircular
		}
		seen[addr] = struct{}{}
		defer delete(seen, addr)
		return s.walkMap(v, p, depth, seen)

	case reflect.Struct:
		if t, ok := v.Interface().(time.Time); ok {
			return t
		}
		if err, ok := v.Interface().(error); ok {
			return s.errValue(err, p)
		}
		return s.walkStruct(v, p, depth, seen)
	}

	return MarkerMasked
}

// walkSequence recurses per element, preserving order and length.
func (s *Sanitizer) walkSequence(v reflect.Value, p *Policy, depth int, seen map[uintptr]struct{}) any {
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = s.walk(v.Index(i), p, depth+1, seen)
	}
	return out
}

// walkMap recurses both keys and values. String keys that name a sensitive
// field keep the key and mask the value; all other string keys go through
// the rule sweep. Non-string keys are rendered with fmt.Sprint so the output
// stays a JSON-shaped map.
func (s *Sanitizer) walkMap(v reflect.Value, p *Policy, depth int, seen map[uintptr]struct{}) any {
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k, val := iter.Key(), iter.Value()
		for k.Kind() == reflect.Interface && !k.IsNil() {
			k = k.Elem()
		}
		if k.Kind() == reflect.String {
			name := k.String()
			if p.isSensitiveField(name) {
				out[name] = fieldMask(val)
				continue
			}
			out[sweep(name, p)] = s.walk(val, p, depth+1, seen)
			continue
		}
		out[fmt.Sprint(k.Interface())] = s.walk(val, p, depth+1, seen)
	}
	return out
}

// walkStruct maps exported fields into a map, masking sensitive field names
// and tagging the concrete type. A panicking accessor poisons only its own
// key.
func (s *Sanitizer) walkStruct(v reflect.Value, p *Policy, depth int, seen map[uintptr]struct{}) any {
	t := v.Type()
	out := make(map[string]any, t.NumField()+1)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					out[f.Name] = MarkerAccessError
				}
			}()
			if p.isSensitiveField(f.Name) {
				out[f.Name] = fieldMask(v.Field(i))
				return
			}
			out[f.Name] = s.walk(v.Field(i), p, depth+1, seen)
		}()
	}
	if name := t.Name(); name != "" {
		out["__type"] = name
	}
	return out
}

// errValue renders an error as {name, message, stack?} with the message and
// stack run through the rule sweep. A panicking Error method degrades to the
// access-error marker.
func (s *Sanitizer) errValue(err error, p *Policy) any {
	out := map[string]any{"name": fmt.Sprintf("%T", err)}
	func() {
		defer func() {
			if r := recover(); r != nil {
				out["message"] = MarkerAccessError
			}
		}()
		out["message"] = sweep(err.Error(), p)
	}()
	if sc, ok := err.(stackCarrier); ok {
		out["stack"] = sweep(sc.StackTrace(), p)
	}
	return out
}

// sweep applies every enabled rule in order, built-ins then custom. Later
// rules see the output of earlier rules; ValidatePolicy guarantees no rule
// re-matches another rule's replacement.
func sweep(in string, p *Policy) string {
	out := in
	for _, r := range p.Rules {
		if r.Enabled {
			out = r.Pattern.ReplaceAllString(out, r.Replacement)
		}
	}
	for _, r := range p.CustomRules {
		if r.Enabled {
			out = r.Pattern.ReplaceAllString(out, r.Replacement)
		}
	}
	return out
}

// fieldMask replaces a sensitive field's value regardless of type: short
// strings collapse to "***", longer strings keep first and last characters,
// scalars and nils become "***", everything else a masked marker.
func fieldMask(v reflect.Value) any {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return "***"
		}
		if v.Kind() == reflect.Interface && v.IsNil() {
			return "***"
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return "***"
	}
	switch v.Kind() {
	case reflect.String:
		str := v.String()
		if len(str) <= 3 {
			return "***"
		}
		return str[:1] + "***" + str[len(str)-1:]
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "***"
	default:
		return MarkerMasked
	}
}

// ContainsPII runs the same traversal short-circuited on the first enabled
// rule match or sensitive field name. Depth and cycle guards terminate
// without flagging. Used by the logger in strict mode.
func (s *Sanitizer) ContainsPII(v any) bool {
	p := s.policy()
	if !p.active() {
		return false
	}
	seen := make(map[uintptr]struct{})
	return s.scan(reflect.ValueOf(v), p, 0, seen)
}

func (s *Sanitizer) scan(v reflect.Value, p *Policy, depth int, seen map[uintptr]struct{}) (hit bool) {
	defer func() {
		if r := recover(); r != nil {
			hit = false
		}
	}()

	if !v.IsValid() || depth > p.MaxDepth {
		return false
	}
	for v.Kind() == reflect.Interface {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.String:
		return matchesAnyRule(v.String(), p)

	case reflect.Pointer:
		if v.IsNil() {
			return false
		}
		addr := v.Pointer()
		if _, cyc := seen[addr]; cyc {
			return false
		}
		seen[addr] = struct{}{}
		defer delete(seen, addr)
		if err, ok := v.Interface().(error); ok {
			return matchesAnyRule(err.Error(), p)
		}
		return s.scan(v.Elem(), p, depth, seen)

	case reflect.Slice:
		if v.IsNil() || v.Type().Elem().Kind() == reflect.Uint8 {
			return false
		}
		addr := v.Pointer()
		if _, cyc := seen[addr]; cyc {
			return false
		}
		seen[addr] = struct{}{}
		defer delete(seen, addr)
		for i := 0; i < v.Len(); i++ {
			if s.scan(v.Index(i), p, depth+1, seen) {
				return true
			}
		}
		return false

	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if s.scan(v.Index(i), p, depth+1, seen) {
				return true
			}
		}
		return false

	case reflect.Map:
		if v.IsNil() {
			return false
		}
		addr := v.Pointer()
		if _, cyc := seen[addr]; cyc {
			return false
		}
		seen[addr] = struct{}{}
		defer delete(seen, addr)
		iter := v.MapRange()
		for iter.Next() {
			k := iter.Key()
			for k.Kind() == reflect.Interface && !k.IsNil() {
				k = k.Elem()
			}
			if k.Kind() == reflect.String && p.isSensitiveField(k.String()) {
				return true
			}
			if s.scan(k, p, depth+1, seen) || s.scan(iter.Value(), p, depth+1, seen) {
				return true
			}
		}
		return false

	case reflect.Struct:
		if _, ok := v.Interface().(time.Time); ok {
			return false
		}
		if err, ok := v.Interface().(error); ok {
			return matchesAnyRule(err.Error(), p)
		}
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			if p.isSensitiveField(f.Name) {
				return true
			}
			if s.scan(v.Field(i), p, depth+1, seen) {
				return true
			}
		}
		return false
	}

	return false
}

func matchesAnyRule(str string, p *Policy) bool {
	for _, r := range p.Rules {
		if r.Enabled && r.Pattern.MatchString(str) {
			return true
		}
	}
	for _, r := range p.CustomRules {
		if r.Enabled && r.Pattern.MatchString(str) {
			return true
		}
	}
	return false
}
