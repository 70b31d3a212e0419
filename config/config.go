// Package config implements the runtime's layered configuration: an
// immutable tree of dotted-path keys to scalar leaves, merged from defaults,
// an optional YAML file, and environment overrides. Every With* operation
// returns a new snapshot; existing Config values never change underneath a
// reader.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// ErrBadConfig indicates a malformed configuration value, such as a
// duration with an unknown unit.
var ErrBadConfig = errors.New("bad config value")

// Config is an immutable tree of string keys to leaves. Leaves are strings,
// ints, floats, bools, durations (as strings like "100ms"), or lists.
type Config struct {
	root map[string]any
}

// New builds a Config from a nested map. The map is deep-copied; dotted
// keys in the input are expanded into nested maps.
func New(m map[string]any) *Config {
	root := make(map[string]any)
	for key, value := range m {
		setPath(root, key, deepCopyValue(value))
	}

	return &Config{root: root}
}

// Empty returns a configuration with no values.
func Empty() *Config {
	return &Config{root: make(map[string]any)}
}

// Default returns the runtime's built-in defaults.
func Default() *Config {
	return New(map[string]any{
		"name":                       "",
		"supervision.strategy":       "restart",
		"supervision.max-restarts":   3,
		"supervision.within":         "1m",
		"supervision.backoff.min":    "100ms",
		"supervision.backoff.max":    "10s",
		"supervision.backoff.factor": 2.0,
		"remoting.enabled":           false,
		"remoting.host":              "127.0.0.1",
		"remoting.port":              0,
	})
}

// ParseYAML parses a YAML document into a Config.
func ParseYAML(data []byte) (*Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}

	return New(flattenYAML(m)), nil
}

// LoadFile reads and parses a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseYAML(data)
}

// HasPath reports whether a value (leaf or subtree) exists at the dotted
// path.
func (c *Config) HasPath(path string) bool {
	_, ok := c.lookup(path)

	return ok
}

// GetString returns the string at the path, or the optional default (empty
// string otherwise) when absent.
func (c *Config) GetString(path string, def ...string) string {
	value, ok := c.lookup(path)
	if !ok {
		return firstOr(def, "")
	}

	return cast.ToString(value)
}

// GetInt returns the int at the path, or the optional default.
func (c *Config) GetInt(path string, def ...int) int {
	value, ok := c.lookup(path)
	if !ok {
		return firstOr(def, 0)
	}

	n, err := cast.ToIntE(value)
	if err != nil {
		return firstOr(def, 0)
	}

	return n
}

// GetFloat returns the float at the path, or the optional default.
func (c *Config) GetFloat(path string, def ...float64) float64 {
	value, ok := c.lookup(path)
	if !ok {
		return firstOr(def, 0)
	}

	f, err := cast.ToFloat64E(value)
	if err != nil {
		return firstOr(def, 0)
	}

	return f
}

// GetBool returns the bool at the path, or the optional default.
func (c *Config) GetBool(path string, def ...bool) bool {
	value, ok := c.lookup(path)
	if !ok {
		return firstOr(def, false)
	}

	b, err := cast.ToBoolE(value)
	if err != nil {
		return firstOr(def, false)
	}

	return b
}

// GetStringList returns the list of strings at the path, or nil.
func (c *Config) GetStringList(path string) []string {
	value, ok := c.lookup(path)
	if !ok {
		return nil
	}

	list, err := cast.ToStringSliceE(value)
	if err != nil {
		return nil
	}

	return list
}

// GetDuration returns the duration at the path, or the optional default.
// Invalid values fall back to the default; use ParseDuration directly when
// the error matters.
func (c *Config) GetDuration(path string,
	def ...time.Duration) time.Duration {

	value, ok := c.lookup(path)
	if !ok {
		return firstOr(def, 0)
	}

	d, err := ParseDuration(cast.ToString(value))
	if err != nil {
		return firstOr(def, 0)
	}

	return d
}

// GetConfig returns the subtree at the given prefix as its own Config. A
// missing or scalar prefix yields an empty Config.
func (c *Config) GetConfig(prefix string) *Config {
	value, ok := c.lookup(prefix)
	if !ok {
		return Empty()
	}

	subtree, ok := value.(map[string]any)
	if !ok {
		return Empty()
	}

	return &Config{root: deepCopyMap(subtree)}
}

// WithFallback merges another Config underneath this one: every leaf
// present in the receiver wins, paths present only in the fallback are
// added, and subtrees never partially merge at non-leaf values.
func (c *Config) WithFallback(other *Config) *Config {
	if other == nil {
		return c
	}

	return &Config{root: mergeTrees(c.root, other.root)}
}

// WithValue returns a new Config with one leaf set at the dotted path.
func (c *Config) WithValue(path string, value any) *Config {
	root := deepCopyMap(c.root)
	setPath(root, path, deepCopyValue(value))

	return &Config{root: root}
}

// WithEnvOverrides scans the process environment for variables starting
// with the given prefix and overlays each as a string leaf: the remainder
// of the name is lowercased and underscores become dots, so
// MOVIE_REMOTING_PORT=9001 sets remoting.port. Env values win over the
// receiver's values.
func (c *Config) WithEnvOverrides(prefix string) *Config {
	overrides := make(map[string]any)
	for _, kv := range os.Environ() {
		name, value, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(name, prefix) {
			continue
		}

		key := strings.TrimPrefix(name, prefix)
		key = strings.TrimPrefix(key, "_")
		if key == "" {
			continue
		}
		key = strings.ToLower(strings.ReplaceAll(key, "_", "."))

		overrides[key] = value
	}

	if len(overrides) == 0 {
		return c
	}

	return New(overrides).WithFallback(c)
}

// ParseDuration parses the configuration duration syntax "<n><unit>" with
// units ms, s, m, and h. Unknown units fail with ErrBadConfig.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	idx := len(s)
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			idx = i
			break
		}
	}

	numStr, unit := s[:idx], s[idx:]
	if numStr == "" {
		return 0, fmt.Errorf("%w: duration %q has no numeric part",
			ErrBadConfig, s)
	}

	num, err := cast.ToFloat64E(numStr)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q", ErrBadConfig, s)
	}

	var base time.Duration
	switch unit {
	case "ms":
		base = time.Millisecond
	case "s":
		base = time.Second
	case "m":
		base = time.Minute
	case "h":
		base = time.Hour
	default:
		return 0, fmt.Errorf("%w: unknown duration unit %q in %q",
			ErrBadConfig, unit, s)
	}

	return time.Duration(num * float64(base)), nil
}

// lookup walks the tree along a dotted path.
func (c *Config) lookup(path string) (any, bool) {
	if path == "" {
		return c.root, true
	}

	current := any(c.root)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// setPath writes a value at a dotted path, materializing intermediate maps
// and replacing any scalar found along the way.
func setPath(root map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := root
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}

	current[parts[len(parts)-1]] = value
}

// mergeTrees merges fallback under primary: primary's leaves win, and a
// scalar in primary shadows an entire fallback subtree.
func mergeTrees(primary, fallback map[string]any) map[string]any {
	merged := deepCopyMap(fallback)
	for key, value := range primary {
		pm, pOK := value.(map[string]any)
		fm, fOK := merged[key].(map[string]any)
		if pOK && fOK {
			merged[key] = mergeTrees(pm, fm)
			continue
		}

		merged[key] = deepCopyValue(value)
	}

	return merged
}

// flattenYAML normalizes YAML's map forms and dotted keys into the nested
// shape New expects.
func flattenYAML(m map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range m {
		if nested, ok := value.(map[string]any); ok {
			for subKey, subValue := range flattenYAML(nested) {
				out[key+"."+subKey] = subValue
			}
			continue
		}

		out[key] = value
	}

	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		out[key] = deepCopyValue(value)
	}

	return out
}

func deepCopyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return deepCopyMap(v)

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopyValue(item)
		}

		return out

	default:
		return v
	}
}

func firstOr[T any](values []T, fallback T) T {
	if len(values) > 0 {
		return values[0]
	}

	return fallback
}
