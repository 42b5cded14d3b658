package scrub

// Rule describes one kind of sensitive text matched by a regular
// expression. Credentials are covered by the gitleaks detector; rules add
// personal details it does not look for.
type Rule struct {
	// ID names the rule in findings and metrics.
	ID string `koanf:"id"`

	// Pattern is the regular expression that matches the sensitive span.
	Pattern string `koanf:"pattern"`

	// Keywords, when set, must appear (case-insensitively) before the
	// pattern is tried at all.
	Keywords []string `koanf:"keywords"`
}

// DefaultRules returns the contact-detail rules applied to shared text.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "email",
			Pattern:  `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
			Keywords: []string{"@"},
		},
		{
			ID:       "phone",
			Pattern:  `\+[1-9][0-9]{0,2}[ \-]?(?:\(?[0-9]{2,4}\)?[ \-]?){2,4}[0-9]{2,4}`,
			Keywords: []string{"+"},
		},
	}
}
