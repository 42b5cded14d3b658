// Package scrub redacts credentials and contact details from text that is
// shared with everyone in a session.
//
// Credentials are found with the gitleaks default rule set. Contact details
// are found with regexp rules. Matches from both are merged before
// replacement, so overlapping spans become a single redaction.
package scrub

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/focusroom/focusd/internal/config"
)

// DefaultRedaction replaces each sensitive span.
const DefaultRedaction = "[redacted]"

// Finding is one matched span in the original text.
type Finding struct {
	RuleID string
	Start  int
	End    int
}

// Result is the outcome of scrubbing one string.
type Result struct {
	Text     string
	Findings []Finding
	ByRule   map[string]int
}

// Redacted reports whether anything was replaced.
func (r Result) Redacted() bool { return len(r.Findings) > 0 }

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// Scrubber applies the gitleaks detector plus a fixed rule set. It is safe
// for concurrent use.
type Scrubber struct {
	enabled   bool
	redaction string
	rules     []compiledRule

	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a scrubber. Nil rules selects DefaultRules.
func New(cfg config.ScrubConfig, rules []Rule) (*Scrubber, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	s := &Scrubber{
		enabled:   !cfg.Disabled,
		redaction: cfg.Redaction,
		rules:     make([]compiledRule, 0, len(rules)),
	}
	if s.redaction == "" {
		s.redaction = DefaultRedaction
	}

	for i, rule := range rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		cr := compiledRule{id: rule.ID, pattern: pattern}
		for _, kw := range rule.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(kw)))
		}
		s.rules = append(s.rules, cr)
	}

	if s.enabled {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("create secret detector: %w", err)
		}
		s.detector = d
	}
	return s, nil
}

// Enabled reports whether the scrubber changes text.
func (s *Scrubber) Enabled() bool { return s.enabled }

type span struct{ start, end int }

// Scrub finds and replaces every sensitive span in text.
func (s *Scrubber) Scrub(text string) Result {
	res := Result{Text: text, ByRule: map[string]int{}}
	if !s.enabled || text == "" {
		return res
	}

	var spans []span
	add := func(id string, start, end int) {
		res.Findings = append(res.Findings, Finding{RuleID: id, Start: start, End: end})
		res.ByRule[id]++
		spans = append(spans, span{start, end})
	}

	for _, f := range s.detectSecrets(text) {
		needle := f.secret
		if needle == "" {
			needle = f.match
		}
		for _, loc := range indexAll(text, needle) {
			add(f.ruleID, loc, loc+len(needle))
		}
	}

	for _, rule := range s.rules {
		if !rule.applies(text) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(text, -1) {
			if m[0] == m[1] {
				continue
			}
			add(rule.id, m[0], m[1])
		}
	}
	if len(spans) == 0 {
		return res
	}
	for id, n := range res.ByRule {
		Redactions.WithLabelValues(id).Add(float64(n))
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := []span{spans[0]}
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.start <= last.end {
			if cur.end > last.end {
				last.end = cur.end
			}
			continue
		}
		merged = append(merged, cur)
	}

	out := text
	for i := len(merged) - 1; i >= 0; i-- {
		r := merged[i]
		out = out[:r.start] + s.redaction + out[r.end:]
	}
	res.Text = out
	return res
}

// String returns text with sensitive spans replaced.
func (s *Scrubber) String(text string) string {
	return s.Scrub(text).Text
}

type secretFinding struct {
	ruleID string
	secret string
	match  string
}

// detectSecrets runs the gitleaks detector over text. Findings carry the
// matched value rather than offsets; callers locate it in text.
func (s *Scrubber) detectSecrets(text string) []secretFinding {
	if s.detector == nil {
		return nil
	}
	s.mu.Lock()
	found := s.detector.DetectString(text)
	s.mu.Unlock()

	out := make([]secretFinding, 0, len(found))
	for _, f := range found {
		out = append(out, secretFinding{ruleID: f.RuleID, secret: f.Secret, match: f.Match})
	}
	return out
}

// indexAll returns the start of every non-overlapping occurrence of needle.
func indexAll(text, needle string) []int {
	if needle == "" {
		return nil
	}
	var locs []int
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], needle)
		if i < 0 {
			break
		}
		locs = append(locs, from+i)
		from += i + len(needle)
	}
	return locs
}

func (r compiledRule) applies(text string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(text) {
			return true
		}
	}
	return false
}
