package rules

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"math"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
	"github.com/dd0wney/cluso-archmap/pkg/validation"
)

//go:embed patterns/default.yaml
var defaultPatterns []byte

// DefaultSecretConfidence applies to patterns that do not set one.
const DefaultSecretConfidence = 0.8

// Pattern is one secret detection rule. When the expression has a capture
// group, group 1 is the secret value; otherwise the whole match is.
type Pattern struct {
	ID         string           `yaml:"id" validate:"required"`
	Pattern    string           `yaml:"pattern" validate:"required"`
	Severity   finding.Severity `yaml:"severity" validate:"required,oneof=info low medium high"`
	MinEntropy float64          `yaml:"min_entropy,omitempty" validate:"gte=0"`
	Confidence float64          `yaml:"confidence,omitempty" validate:"gte=0,lte=1"`

	re *regexp.Regexp
}

type patternFile struct {
	Patterns []Pattern `yaml:"patterns"`
}

// LoadPatterns decodes and compiles a YAML pattern file.
func LoadPatterns(r io.Reader) ([]Pattern, error) {
	var pf patternFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode secret patterns: %w", err)
	}

	seen := make(map[string]bool, len(pf.Patterns))
	for i := range pf.Patterns {
		p := &pf.Patterns[i]
		if err := validation.Struct(p); err != nil {
			return nil, fmt.Errorf("secret pattern %d: %w", i, err)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("secret pattern %q defined twice", p.ID)
		}
		seen[p.ID] = true
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("secret pattern %q: %w", p.ID, err)
		}
		p.re = re
		if p.Confidence == 0 {
			p.Confidence = DefaultSecretConfidence
		}
	}
	return pf.Patterns, nil
}

// DefaultPatterns returns the built-in pattern set.
func DefaultPatterns() []Pattern {
	ps, err := LoadPatterns(bytes.NewReader(defaultPatterns))
	if err != nil {
		panic(fmt.Sprintf("built-in secret patterns: %v", err))
	}
	return ps
}

// SecretConfig selects the patterns used by the secret exposure rule.
type SecretConfig struct {
	// PatternsFile adds patterns from a YAML file. A pattern whose id matches
	// a built-in one replaces it.
	PatternsFile string `mapstructure:"patterns_file"`
	// NoDefaults drops the built-in patterns.
	NoDefaults bool `mapstructure:"no_defaults"`
	// Patterns are added after the file, for programmatic use.
	Patterns []Pattern `mapstructure:"-"`
}

// SecretRule scans entity attributes for hard-coded credentials.
type SecretRule struct {
	patterns []Pattern
}

// NewSecretRule builds the rule from defaults plus configured patterns.
func NewSecretRule(cfg SecretConfig) (*SecretRule, error) {
	var base []Pattern
	if !cfg.NoDefaults {
		base = DefaultPatterns()
	}

	var extra []Pattern
	if cfg.PatternsFile != "" {
		f, err := os.Open(cfg.PatternsFile)
		if err != nil {
			return nil, fmt.Errorf("open secret patterns: %w", err)
		}
		defer f.Close()
		ps, err := LoadPatterns(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.PatternsFile, err)
		}
		extra = append(extra, ps...)
	}
	for _, p := range cfg.Patterns {
		if p.re == nil {
			re, err := regexp.Compile(p.Pattern)
			if err != nil {
				return nil, fmt.Errorf("secret pattern %q: %w", p.ID, err)
			}
			p.re = re
		}
		if p.Confidence == 0 {
			p.Confidence = DefaultSecretConfidence
		}
		extra = append(extra, p)
	}

	byID := make(map[string]Pattern, len(base)+len(extra))
	for _, p := range append(base, extra...) {
		byID[p.ID] = p
	}
	patterns := make([]Pattern, 0, len(byID))
	for _, p := range byID {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].ID < patterns[j].ID })
	return &SecretRule{patterns: patterns}, nil
}

func (r *SecretRule) Kind() string                    { return KindSecretExposure }
func (r *SecretRule) Accepts(graph.RelationKind) bool { return false }

// Patterns returns the active pattern set in id order.
func (r *SecretRule) Patterns() []Pattern { return r.patterns }

// Analyze reports one finding per (entity, attribute, pattern) whose first
// match clears the pattern's entropy floor.
func (r *SecretRule) Analyze(ctx context.Context, g *graph.Graph) ([]finding.Finding, error) {
	var out []finding.Finding
	for _, e := range g.Entities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, kv := range FlattenAttributes(e.Attributes) {
			for _, p := range r.patterns {
				hit, ok := match(p, kv.Value)
				if !ok {
					continue
				}
				subject := kv.Key + "#" + p.ID
				// Entities are named by id: the name itself may be the secret.
				explanation := fmt.Sprintf("possible %s in attribute %q of %s %s", p.ID, kv.Key, e.Kind, e.ID)
				out = append(out, finding.New(r.Kind(), p.Severity, subject, []string{e.ID}, nil, explanation).
					WithConfidence(p.Confidence).
					WithEvidence(map[string]any{
						"attribute": kv.Key,
						"pattern":   p.ID,
						"excerpt":   hit.excerpt,
						"entropy":   round(hit.entropy, 3),
					}))
			}
		}
	}
	return out, nil
}

type secretHit struct {
	excerpt string
	entropy float64
}

func match(p Pattern, value string) (secretHit, bool) {
	loc := p.re.FindStringSubmatchIndex(value)
	if loc == nil {
		return secretHit{}, false
	}
	start, end := loc[0], loc[1]
	secretStart, secretEnd := start, end
	if len(loc) >= 4 && loc[2] >= 0 && loc[3] > loc[2] {
		secretStart, secretEnd = loc[2], loc[3]
	}
	secret := value[secretStart:secretEnd]
	if secret == "" {
		return secretHit{}, false
	}

	h := ShannonEntropy(secret)
	if p.MinEntropy > 0 && h < p.MinEntropy {
		return secretHit{}, false
	}
	return secretHit{
		excerpt: redact(value[start:secretStart], secret),
		entropy: h,
	}, true
}

const maxExcerptPrefix = 32

// redact keeps the text leading up to the secret and at most an eighth of
// the secret itself (never more than four runes).
func redact(prefix, secret string) string {
	if utf8.RuneCountInString(prefix) > maxExcerptPrefix {
		r := []rune(prefix)
		prefix = "..." + string(r[len(r)-maxExcerptPrefix:])
	}
	runes := []rune(secret)
	shown := min(len(runes)/8, 4)
	return fmt.Sprintf("%s%s[%d chars redacted]", prefix, string(runes[:shown]), len(runes)-shown)
}

// ShannonEntropy returns the per-rune entropy of s in bits.
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	n := 0
	for _, c := range s {
		counts[c]++
		n++
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}

// KV is one flattened attribute.
type KV struct {
	Key   string
	Value string
}

// FlattenAttributes walks nested maps and slices of any element type and
// returns every string leaf keyed by its path (a.b[0].c), sorted by key.
// Maps must have string keys; other leaves are skipped.
func FlattenAttributes(attrs map[string]any) []KV {
	var out []KV
	var walk func(prefix string, v reflect.Value)
	walk = func(prefix string, v reflect.Value) {
		for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return
			}
			v = v.Elem()
		}
		switch v.Kind() {
		case reflect.String:
			out = append(out, KV{Key: prefix, Value: v.String()})
		case reflect.Map:
			if v.Type().Key().Kind() != reflect.String {
				return
			}
			iter := v.MapRange()
			for iter.Next() {
				key := iter.Key().String()
				if prefix != "" {
					key = prefix + "." + key
				}
				walk(key, iter.Value())
			}
		case reflect.Slice, reflect.Array:
			if v.Type().Elem().Kind() == reflect.Uint8 {
				return
			}
			for i := 0; i < v.Len(); i++ {
				walk(prefix+"["+strconv.Itoa(i)+"]", v.Index(i))
			}
		}
	}
	walk("", reflect.ValueOf(attrs))
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
