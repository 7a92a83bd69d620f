// Package expression implements the variable resolver (component C): the
// three substitution syntaxes and the restricted arithmetic/boolean
// expression grammar of §4.3/§6. It is architecturally grounded on the
// teacher's pkg/expression (a Context held by the caller, a Parser exposing
// Evaluate/Resolve, recursive walking of map/slice config values) but the
// concrete grammar is new: the teacher's `$node.X`/`$json.X`/`$func.name()`
// syntax does not appear here at all, replaced by the spec's `{{ }}`,
// `${ }`, `%...%` forms and a hand-written recursive-descent expression
// parser instead of regex dispatch.
package expression

import (
	"fmt"
	"regexp"
	"strings"
)

// Resolver evaluates templated configuration values against a variable set.
// It never panics and never returns an error to the caller for malformed
// expressions: per §4.3 "fail-soft", failures are logged by the caller and
// treated as null/literal.
type Resolver struct {
	logf func(format string, args ...interface{})
}

// New creates a Resolver. logf may be nil (discards warnings).
func New(logf func(format string, args ...interface{})) *Resolver {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Resolver{logf: logf}
}

var (
	doubleBrace = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)
	dollarBrace = regexp.MustCompile(`\$\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}`)
	percentVar  = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)
	bareIdent   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Resolve transforms a single configuration value (scalar, list, or map) by
// substituting variable references and evaluating safe expressions found in
// string values. Non-string values pass through unchanged except for nested
// walking of lists/maps.
func (r *Resolver) Resolve(value interface{}, variables map[string]interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, variables)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = r.Resolve(item, variables)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = r.Resolve(item, variables)
		}
		return out
	default:
		return value
	}
}

// resolveString implements the priority order from §4.3: {{ }} (substitution
// or expression), ${ }, %name%.
func (r *Resolver) resolveString(s string, variables map[string]interface{}) interface{} {
	// A string that is *entirely* one {{ }} expression resolves to the
	// expression's native value (so `{{ count }}` can yield an integer, not
	// the string "5"). Partial/mixed strings resolve to string substitution.
	if m := doubleBrace.FindStringSubmatch(strings.TrimSpace(s)); m != nil && strings.TrimSpace(s) == m[0] {
		inner := strings.TrimSpace(m[1])
		if bareIdent.MatchString(inner) {
			if val, ok := variables[inner]; ok {
				return val
			}
			r.logf("variable %q not found", inner)
			return nil
		}
		val, err := Evaluate(inner, variables)
		if err != nil {
			r.logf("expression %q failed to evaluate: %v", inner, err)
			return s
		}
		return val
	}

	result := doubleBrace.ReplaceAllStringFunc(s, func(m string) string {
		inner := strings.TrimSpace(doubleBrace.FindStringSubmatch(m)[1])
		if bareIdent.MatchString(inner) {
			if val, ok := variables[inner]; ok {
				return fmt.Sprintf("%v", val)
			}
			r.logf("variable %q not found", inner)
			return ""
		}
		val, err := Evaluate(inner, variables)
		if err != nil {
			r.logf("expression %q failed to evaluate: %v", inner, err)
			return m
		}
		return fmt.Sprintf("%v", val)
	})

	result = dollarBrace.ReplaceAllStringFunc(result, func(m string) string {
		name := dollarBrace.FindStringSubmatch(m)[1]
		if val, ok := variables[name]; ok {
			return fmt.Sprintf("%v", val)
		}
		r.logf("variable %q not found", name)
		return ""
	})

	result = percentVar.ReplaceAllStringFunc(result, func(m string) string {
		name := percentVar.FindStringSubmatch(m)[1]
		if val, ok := variables[name]; ok {
			return fmt.Sprintf("%v", val)
		}
		r.logf("variable %q not found", name)
		return ""
	})

	return result
}
