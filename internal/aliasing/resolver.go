package aliasing

import (
	"log/slog"
	"regexp"
	"strings"
)

type (
	// compiledPattern holds a pre-compiled regex and its field template.
	compiledPattern struct {
		regex *regexp.Regexp
		field string
	}

	// Resolver maps search field names to registry fields. It is immutable
	// after construction and safe for concurrent use.
	//
	// Pattern syntax:
	//   - {variable} captures one path segment (no ".")
	//   - {variable*} captures the rest of the path, dots included
	//   - literal characters match exactly
	//   - the first matching pattern wins
	Resolver struct {
		aliases  map[string]string
		patterns []compiledPattern
	}
)

// variableRegex matches {name} or {name*} in a pattern.
var variableRegex = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\*?\}`)

// compilePattern converts a pattern to an anchored regex.
//
// "meta.{key}" becomes ^meta\.(?P<key>[^.]+)$.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	result := regexp.QuoteMeta(pattern)

	for _, match := range variableRegex.FindAllStringSubmatch(pattern, -1) {
		capture := "(?P<" + match[1] + ">[^.]+)"
		if strings.HasSuffix(match[0], "*}") {
			capture = "(?P<" + match[1] + ">.+)"
		}

		result = strings.Replace(result, regexp.QuoteMeta(match[0]), capture, 1)
	}

	return regexp.Compile("^" + result + "$")
}

func substituteVariables(template string, captures map[string]string) string {
	result := template

	for name, value := range captures {
		result = strings.ReplaceAll(result, "{"+name+"}", value)
		result = strings.ReplaceAll(result, "{"+name+"*}", value)
	}

	return result
}

// NewResolver builds a resolver from cfg. Entries with an empty side or an
// invalid pattern are skipped with a warning. A nil config resolves nothing.
func NewResolver(cfg *Config) *Resolver {
	r := &Resolver{aliases: map[string]string{}}
	if cfg == nil {
		return r
	}

	for alias, field := range cfg.FieldAliases {
		alias, field = strings.ToLower(strings.TrimSpace(alias)), strings.TrimSpace(field)
		if alias == "" || field == "" {
			slog.Warn("Skipping field alias with empty side", slog.String("alias", alias))

			continue
		}

		r.aliases[alias] = field
	}

	for _, fp := range cfg.FieldPatterns {
		pattern, field := strings.TrimSpace(fp.Pattern), strings.TrimSpace(fp.Field)
		if pattern == "" || field == "" {
			slog.Warn("Skipping field pattern with empty side", slog.String("pattern", pattern))

			continue
		}

		regex, err := compilePattern(pattern)
		if err != nil {
			slog.Warn("Skipping field pattern with invalid regex",
				slog.String("pattern", pattern),
				slog.String("error", err.Error()))

			continue
		}

		r.patterns = append(r.patterns, compiledPattern{regex: regex, field: field})
	}

	return r
}

// AliasCount returns the number of exact aliases plus patterns.
func (r *Resolver) AliasCount() int {
	if r == nil {
		return 0
	}

	return len(r.aliases) + len(r.patterns)
}

// Resolve returns the field an alias stands for, or field unchanged.
func (r *Resolver) Resolve(field string) string {
	if resolved, ok := r.Match(field); ok {
		return resolved
	}

	return field
}

// Match reports the field an alias stands for. Exact aliases win over
// patterns.
func (r *Resolver) Match(field string) (string, bool) {
	if r == nil || field == "" {
		return "", false
	}

	if resolved, ok := r.aliases[strings.ToLower(field)]; ok {
		return resolved, true
	}

	for _, cp := range r.patterns {
		match := cp.regex.FindStringSubmatch(field)
		if match == nil {
			continue
		}

		captures := make(map[string]string)

		for i, name := range cp.regex.SubexpNames() {
			if i > 0 && name != "" {
				captures[name] = match[i]
			}
		}

		return substituteVariables(cp.field, captures), true
	}

	return "", false
}
