package matcher

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

// Pattern is a JSON document describing a structural constraint over an
// envelope payload. It supports:
//
//   - object patterns: every key in the pattern must be present in the
//     value and recursively match; extra keys in the value are ignored.
//   - the reserved key "**" inside an object pattern: its sub-pattern must
//     match somewhere in the value's tree (deep wildcard search), not just
//     at the current level.
//   - a key beginning with "$" inside an object pattern: the rest of the
//     key is a CEL path expression evaluated against the whole payload
//     (the `payload` variable), not just the current subtree; the clause
//     is satisfied if the sub-pattern matches any one resolved value (a
//     path expression may resolve to a list).
//   - array patterns: alternation — the value matches if any element of
//     the pattern array matches it.
//   - string patterns: a literal match, a "/regexp/"-delimited regular
//     expression, a glob containing "*"/"?", a "!"-prefixed negation of
//     any of the above, or a "$"-prefixed CEL boolean expression evaluated
//     with the matched value bound to the variable `payload`.
//   - any other JSON scalar: literal equality.
//
// An empty pattern matches anything.
type Pattern json.RawMessage

// MarshalJSON implements json.Marshaler.
func (p Pattern) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	*p = append((*p)[0:0], data...)
	return nil
}

// Empty reports whether the pattern imposes no constraint.
func (p Pattern) Empty() bool {
	return len(p) == 0 || string(p) == "null"
}

// Matches reports whether value satisfies this pattern. evaluator resolves
// "$"-prefixed CEL clauses; pass nil to reject any pattern containing one.
func (p Pattern) Matches(value any, evaluator *CELCache) (bool, error) {
	if p.Empty() {
		return true, nil
	}
	var tree any
	if err := json.Unmarshal(p, &tree); err != nil {
		return false, fmt.Errorf("matcher: invalid pattern: %w", err)
	}
	return matchValue(tree, value, value, evaluator)
}

// matchValue evaluates pattern against value. root is the whole payload —
// unchanged across the recursion — so a "$"-prefixed key's path expression
// is always evaluated against the top-level payload even when the pattern
// containing it is nested several levels deep.
func matchValue(pattern, value, root any, evaluator *CELCache) (bool, error) {
	switch pat := pattern.(type) {
	case map[string]any:
		valMap, ok := value.(map[string]any)
		if !ok {
			return false, nil
		}
		for key, subPattern := range pat {
			if key == "**" {
				found, err := deepSearch(subPattern, value, root, evaluator)
				if err != nil {
					return false, err
				}
				if !found {
					return false, nil
				}
				continue
			}
			if strings.HasPrefix(key, "$") {
				ok, err := matchPathExpression(key[1:], subPattern, root, evaluator)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
				continue
			}
			subValue, present := valMap[key]
			if !present {
				return false, nil
			}
			ok, err := matchValue(subPattern, subValue, root, evaluator)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case []any:
		for _, alt := range pat {
			ok, err := matchValue(alt, value, root, evaluator)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case string:
		return matchString(pat, value, evaluator)

	case nil:
		return value == nil, nil

	default:
		return reflect.DeepEqual(pat, value), nil
	}
}

// matchPathExpression resolves expr (a CEL expression with `payload` bound
// to root) and reports whether subPattern matches any one resolved value.
// A path expression that resolves to a list is treated as alternation over
// its elements; anything else is treated as a single resolved value.
func matchPathExpression(expr string, subPattern, root any, evaluator *CELCache) (bool, error) {
	if evaluator == nil {
		return false, fmt.Errorf("matcher: key %q requires a CEL evaluator", "$"+expr)
	}
	resolved, err := evaluator.Resolve(expr, root)
	if err != nil {
		return false, err
	}
	candidates, ok := resolved.([]any)
	if !ok {
		candidates = []any{resolved}
	}
	for _, candidate := range candidates {
		ok, err := matchValue(subPattern, candidate, root, evaluator)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// deepSearch reports whether pattern matches value itself or any node
// reachable by descending through object/array values.
func deepSearch(pattern, value, root any, evaluator *CELCache) (bool, error) {
	ok, err := matchValue(pattern, value, root, evaluator)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	switch v := value.(type) {
	case map[string]any:
		for _, child := range v {
			found, err := deepSearch(pattern, child, root, evaluator)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
		}
	case []any:
		for _, child := range v {
			found, err := deepSearch(pattern, child, root, evaluator)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
		}
	}
	return false, nil
}

func matchString(pattern string, value any, evaluator *CELCache) (bool, error) {
	negate := false
	if strings.HasPrefix(pattern, "!") {
		negate = true
		pattern = pattern[1:]
	}

	result, err := evalStringPattern(pattern, value, evaluator)
	if err != nil {
		return false, err
	}
	if negate {
		result = !result
	}
	return result, nil
}

func evalStringPattern(pattern string, value any, evaluator *CELCache) (bool, error) {
	switch {
	case strings.HasPrefix(pattern, "$"):
		if evaluator == nil {
			return false, fmt.Errorf("matcher: pattern %q requires a CEL evaluator", pattern)
		}
		return evaluator.Eval(pattern[1:], value)

	case len(pattern) >= 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/"):
		re, err := compileRegexCached(pattern[1 : len(pattern)-1])
		if err != nil {
			return false, fmt.Errorf("matcher: invalid regexp %q: %w", pattern, err)
		}
		s, ok := value.(string)
		return ok && re.MatchString(s), nil

	case strings.ContainsAny(pattern, "*?"):
		s, ok := value.(string)
		if !ok {
			return false, nil
		}
		return globMatch(pattern, s), nil

	default:
		if s, ok := value.(string); ok {
			return s == pattern, nil
		}
		return fmt.Sprint(value) == pattern, nil
	}
}

// globMatch matches s against a glob using "*" (any run of characters) and
// "?" (exactly one character).
func globMatch(glob, s string) bool {
	re, err := globToRegexCached(glob)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// kindGlobMatch matches an envelope kind against a slash-separated glob
// where "*" stands for exactly one path segment and "**" stands for zero
// or more segments — distinct from globMatch's character-level "*", which
// would wrongly let "chat/*" reach into "chat/a/b".
func kindGlobMatch(glob, kind string) bool {
	re, err := kindGlobToRegexCached(glob)
	if err != nil {
		return false
	}
	return re.MatchString(kind)
}

var (
	regexCacheMu sync.Mutex
	regexCache   = make(map[string]*regexp.Regexp)
	globCacheMu  sync.Mutex
	globCache    = make(map[string]*regexp.Regexp)
	kindCacheMu  sync.Mutex
	kindCache    = make(map[string]*regexp.Regexp)
)

func kindGlobToRegexCached(glob string) (*regexp.Regexp, error) {
	kindCacheMu.Lock()
	defer kindCacheMu.Unlock()
	if re, ok := kindCache[glob]; ok {
		return re, nil
	}
	re, err := regexp.Compile(kindGlobToRegex(glob))
	if err != nil {
		return nil, err
	}
	kindCache[glob] = re
	return re, nil
}

// kindGlobToRegex builds the segment-aware regex for one kind glob. A bare
// "**" matches any kind outright; elsewhere "**" expands to a group that
// swallows its own joining slash so an empty match (zero segments) still
// produces a valid path.
func kindGlobToRegex(glob string) string {
	segments := strings.Split(glob, "/")
	if len(segments) == 1 && segments[0] == "**" {
		return "^.*$"
	}

	var b strings.Builder
	b.WriteString("^")
	prevWasLeadingDoubleStar := false
	for i, seg := range segments {
		isFirst := i == 0
		isLast := i == len(segments)-1
		switch seg {
		case "**":
			if isLast {
				b.WriteString(`(?:/[^/]+)*`)
			} else {
				if !isFirst {
					b.WriteString("/")
				}
				b.WriteString(`(?:[^/]+/)*`)
				prevWasLeadingDoubleStar = true
				continue
			}
		case "*":
			if !isFirst && !prevWasLeadingDoubleStar {
				b.WriteString("/")
			}
			b.WriteString(`[^/]+`)
		default:
			if !isFirst && !prevWasLeadingDoubleStar {
				b.WriteString("/")
			}
			b.WriteString(regexp.QuoteMeta(seg))
		}
		prevWasLeadingDoubleStar = false
	}
	b.WriteString("$")
	return b.String()
}

func compileRegexCached(expr string) (*regexp.Regexp, error) {
	regexCacheMu.Lock()
	defer regexCacheMu.Unlock()
	if re, ok := regexCache[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	regexCache[expr] = re
	return re, nil
}

func globToRegexCached(glob string) (*regexp.Regexp, error) {
	globCacheMu.Lock()
	defer globCacheMu.Unlock()
	if re, ok := globCache[glob]; ok {
		return re, nil
	}
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	globCache[glob] = re
	return re, nil
}
