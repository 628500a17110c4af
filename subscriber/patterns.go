package subscriber

import (
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/PowerDNS/perfagent/config"
)

// Pattern is a compiled name pattern. '*' matches any sequence of
// characters, everything else matches literally.
//
// A pattern that contains '#' is matched against "Controller#action".
// A pattern without '#' is matched against the controller or job name only.
type Pattern struct {
	raw       string
	re        *regexp.Regexp
	hasAction bool
}

// CompilePattern compiles a single pattern.
func CompilePattern(p string) Pattern {
	parts := strings.Split(p, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return Pattern{
		raw:       p,
		re:        regexp.MustCompile("^" + strings.Join(parts, ".*") + "$"),
		hasAction: strings.Contains(p, "#"),
	}
}

// Match returns true if the pattern matches the name and action. The
// action is empty for jobs.
func (p Pattern) Match(name, action string) bool {
	if p.hasAction {
		return p.re.MatchString(name + "#" + action)
	}
	return p.re.MatchString(name)
}

func (p Pattern) String() string {
	return p.raw
}

// PatternSet holds the compiled patterns of a config.Patterns.
type PatternSet struct {
	controllers []Pattern // Controllers and Actions combined
	jobs        []Pattern
}

// CompilePatterns compiles a config.Patterns.
func CompilePatterns(p config.Patterns) PatternSet {
	compile := func(ps []string) []Pattern {
		return lo.Map(lo.Compact(ps), func(s string, _ int) Pattern {
			return CompilePattern(s)
		})
	}
	return PatternSet{
		controllers: append(compile(p.Controllers), compile(p.Actions)...),
		jobs:        compile(p.Jobs),
	}
}

// MatchRequest returns true if any controller or action pattern matches.
func (ps PatternSet) MatchRequest(controller, action string) bool {
	return lo.ContainsBy(ps.controllers, func(p Pattern) bool {
		return p.Match(controller, action)
	})
}

// MatchJob returns true if any job pattern matches.
func (ps PatternSet) MatchJob(class string) bool {
	return lo.ContainsBy(ps.jobs, func(p Pattern) bool {
		return p.Match(class, "")
	})
}

// HasRequests returns true if any controller or action pattern is set.
func (ps PatternSet) HasRequests() bool {
	return len(ps.controllers) > 0
}

// HasJobs returns true if any job pattern is set.
func (ps PatternSet) HasJobs() bool {
	return len(ps.jobs) > 0
}
