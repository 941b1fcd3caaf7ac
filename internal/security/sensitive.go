package security

import (
	"regexp"
	"strings"
	"sync"
)

// SensitivePolicy classifies request paths. The rate limiter and the activity
// logger share one policy.
type SensitivePolicy interface {
	IsSensitive(path string) bool
}

type SensitivePaths struct {
	patterns []*regexp.Regexp
}

// CompileSensitivePaths compiles regular expressions matched against the path.
// Patterns are not implicitly anchored.
func CompileSensitivePaths(patterns []string) (*SensitivePaths, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return &SensitivePaths{patterns: compiled}, nil
}

func (s *SensitivePaths) IsSensitive(path string) bool {
	if s == nil {
		return false
	}
	for _, re := range s.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// ConfiguredSensitivePaths follows a pattern list that may change at runtime,
// recompiling only when the list differs from the last one seen.
type ConfiguredSensitivePaths struct {
	load func() []string

	mu       sync.Mutex
	key      string
	compiled *SensitivePaths
}

func NewConfiguredSensitivePaths(load func() []string) *ConfiguredSensitivePaths {
	return &ConfiguredSensitivePaths{load: load}
}

func (c *ConfiguredSensitivePaths) IsSensitive(path string) bool {
	return c.current().IsSensitive(path)
}

func (c *ConfiguredSensitivePaths) current() *SensitivePaths {
	patterns := c.load()
	key := strings.Join(patterns, "\x00")

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.compiled != nil && c.key == key {
		return c.compiled
	}

	compiled, err := CompileSensitivePaths(patterns)
	if err != nil {
		// Config validation rejects bad patterns; keep the previous set if one slips through.
		if c.compiled != nil {
			return c.compiled
		}
		compiled = &SensitivePaths{}
	}
	c.key = key
	c.compiled = compiled
	return compiled
}
