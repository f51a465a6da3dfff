package config

import (
	"regexp"
	"sort"
	"strings"
)

// RouteRule maps a method and route pattern to a limit resource.
type RouteRule struct {
	Method   string // "*" matches any method
	Route    string // exact path, or a pattern with "*" wildcards
	Resource string
}

// MatchRoute finds the rule for a request. Exact method matches are preferred
// over "*" methods, exact route matches over wildcard patterns, and a pattern
// with more wildcards over a more literal one.
func MatchRoute(method, path string, rules []RouteRule) (RouteRule, bool) {
	if method == "" {
		return RouteRule{}, false
	}

	var possible []RouteRule
	for _, rule := range rules {
		if rule.Method == "*" || rule.Method == method {
			possible = append(possible, rule)
		}
	}

	sort.SliceStable(possible, func(i, j int) bool {
		if possible[i].Method == possible[j].Method {
			return false
		}
		return possible[i].Method != "*" // exact matches come first
	})

	for _, rule := range possible {
		if rule.Route == path {
			return rule, true
		}
	}

	var wildcards []RouteRule
	for _, rule := range possible {
		if strings.Contains(rule.Route, "*") {
			wildcards = append(wildcards, rule)
		}
	}

	sort.SliceStable(wildcards, func(i, j int) bool {
		return strings.Count(wildcards[i].Route, "*") > strings.Count(wildcards[j].Route, "*")
	})

	for _, rule := range wildcards {
		regex, err := regexp.Compile("^" + strings.ReplaceAll(rule.Route, "*", "(.*)") + "/?$")
		if err != nil {
			continue
		}
		if regex.MatchString(path) {
			return rule, true
		}
	}

	return RouteRule{}, false
}
