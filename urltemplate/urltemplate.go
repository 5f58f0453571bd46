// Package urltemplate builds request URLs from a base template such as
// "https://api.figshare.com/v2/{endpoint}".
package urltemplate

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Placeholders returns the distinct placeholder names of the template, sorted.
func Placeholders(template string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		names = append(names, m[1])
	}
	sort.Strings(names)
	return names
}

// Build substitutes every {name} placeholder of the template with values[name]
// and returns the result once it parses as an absolute http(s) URL.
// Placeholders without a value and values without a placeholder are errors.
func Build(template string, values map[string]string) (string, error) {
	names := Placeholders(template)
	used := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := values[name]; !ok {
			return "", fmt.Errorf("no value for placeholder {%s} in %q", name, template)
		}
		used[name] = true
	}
	for name := range values {
		if !used[name] {
			return "", fmt.Errorf("template %q has no placeholder {%s}", template, name)
		}
	}

	built := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		return values[strings.Trim(m, "{}")]
	})

	if err := Validate(built); err != nil {
		return "", err
	}
	return built, nil
}

// Validate checks that raw is an absolute http or https URL with a host.
func Validate(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL %q: scheme should be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return nil
}

// Join appends path segments to an absolute URL, as in {upload_url}/{partNo}.
func Join(base string, segments ...string) (string, error) {
	if err := Validate(base); err != nil {
		return "", err
	}
	parts := append([]string{strings.TrimRight(base, "/")}, segments...)
	joined := strings.Join(parts, "/")
	if err := Validate(joined); err != nil {
		return "", err
	}
	return joined, nil
}
