// Package templates provides session schedules: the built-in catalog, the
// session format generator, and loading of user-defined templates.
package templates

import (
	"errors"
	"fmt"

	"github.com/focusroom/focusd/internal/stageclock"
)

var (
	// ErrUnknownFormat indicates a format name outside the supported set.
	ErrUnknownFormat = errors.New("unknown session format")

	// ErrScheduleTooShort indicates a duration too short for one focus cycle.
	ErrScheduleTooShort = errors.New("duration too short for format")

	// ErrInvalidTemplate indicates a template that fails validation.
	ErrInvalidTemplate = errors.New("invalid template")
)

// Format names a focus block layout.
type Format string

const (
	FormatUninterrupted Format = "uninterrupted"
	FormatPomodoro25    Format = "pomodoro_25_5"
	FormatPomodoro15    Format = "pomodoro_15_3"

	// FormatTemplate marks sessions whose schedule was copied from a stored
	// template. It is not accepted by ParseFormat or Generate.
	FormatTemplate Format = "template"
)

// Stage colors used by the web client.
const (
	colorIntro      = "#60A5FA"
	colorIntentions = "#A78BFA"
	colorSpoken     = "#C084FC"
	colorFocus      = "#34D399"
	colorBreak      = "#FBBF24"
	colorOutro      = "#F87171"
)

// DefaultTemplateID is the id of the built-in classic schedule.
const DefaultTemplateID = "classic-focus"

// Template is a named, reusable schedule.
type Template struct {
	ID          string              `json:"id" koanf:"id" toml:"id"`
	Name        string              `json:"name" koanf:"name" toml:"name"`
	Description string              `json:"description,omitempty" koanf:"description" toml:"description"`
	Blocks      stageclock.Schedule `json:"blocks" koanf:"blocks" toml:"blocks"`
	IsDefault   bool                `json:"is_default" koanf:"is_default" toml:"is_default"`
}

// TotalMinutes is always derived from the blocks.
func (t Template) TotalMinutes() int {
	return t.Blocks.TotalMinutes()
}

// Validate checks the template id, name, and schedule.
func (t Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTemplate)
	}
	if t.Name == "" {
		return fmt.Errorf("%w: template %q: name is required", ErrInvalidTemplate, t.ID)
	}
	if err := t.Blocks.Validate(); err != nil {
		return fmt.Errorf("%w: template %q: %w", ErrInvalidTemplate, t.ID, err)
	}
	return nil
}

// Default returns the classic welcome, intentions, two focus blocks and
// farewell schedule.
func Default() Template {
	return Template{
		ID:          DefaultTemplateID,
		Name:        "Classic Focus",
		Description: "Welcome, written and spoken intentions, two 25 minute focus blocks and a farewell.",
		IsDefault:   true,
		Blocks: stageclock.Schedule{
			{Name: "Welcome & Greetings", DurationMinutes: 3, Kind: stageclock.KindIntro, Color: colorIntro},
			{Name: "Intentions (Text)", DurationMinutes: 5, Kind: stageclock.KindIntentions, Color: colorIntentions},
			{Name: "Intentions (Spoken)", DurationMinutes: 5, Kind: stageclock.KindIntentions, Color: colorSpoken},
			{Name: "Focus Block 1", DurationMinutes: 25, Kind: stageclock.KindFocus, Color: colorFocus},
			{Name: "Break", DurationMinutes: 5, Kind: stageclock.KindBreak, Color: colorBreak},
			{Name: "Focus Block 2", DurationMinutes: 25, Kind: stageclock.KindFocus, Color: colorFocus},
			{Name: "Celebrate & Farewell", DurationMinutes: 3, Kind: stageclock.KindOutro, Color: colorOutro},
		},
	}
}

// Builtins returns the templates seeded into every store.
func Builtins() []Template {
	deep, _ := Generate(FormatUninterrupted, 110)
	pomo, _ := Generate(FormatPomodoro25, 120)
	sprint, _ := Generate(FormatPomodoro15, 54)

	return []Template{
		Default(),
		{ID: "deep-work", Name: "Deep Work", Description: "Two 50 minute blocks with a 10 minute break.", Blocks: deep},
		{ID: "pomodoro-2h", Name: "Pomodoro 2h", Description: "Four 25/5 pomodoro cycles.", Blocks: pomo},
		{ID: "sprint-hour", Name: "Sprint Hour", Description: "Three 15/3 pomodoro cycles.", Blocks: sprint},
	}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatUninterrupted, FormatPomodoro25, FormatPomodoro15:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatLabel returns the display label for a format, or the raw value for
// unknown formats.
func FormatLabel(f Format) string {
	switch f {
	case FormatUninterrupted:
		return "Uninterrupted"
	case FormatPomodoro25:
		return "Pomodoro 25/5"
	case FormatPomodoro15:
		return "Pomodoro 15/3"
	case FormatTemplate:
		return "Template"
	}
	return string(f)
}

// Generate builds the focus blocks for a format.
//
// Uninterrupted sessions are a single 60 minute block when durationMinutes
// is 60 and otherwise two 50 minute blocks around a 10 minute break.
// Pomodoro formats repeat focus/break cycles as many whole times as fit.
func Generate(format Format, durationMinutes int) (stageclock.Schedule, error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: %d minutes", ErrScheduleTooShort, durationMinutes)
	}

	switch format {
	case FormatUninterrupted:
		if durationMinutes == 60 {
			return stageclock.Schedule{focusBlock(1, 60)}, nil
		}
		return stageclock.Schedule{focusBlock(1, 50), breakBlock(10), focusBlock(2, 50)}, nil
	case FormatPomodoro25:
		return cycles(durationMinutes, 25, 5)
	case FormatPomodoro15:
		return cycles(durationMinutes, 15, 3)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Block is a stage annotated with its offset from the session start.
type Block struct {
	stageclock.Stage
	StartOffsetMinutes int `json:"start_offset_minutes"`
}

// WithOffsets annotates each stage with its start offset.
func WithOffsets(s stageclock.Schedule) []Block {
	offsets := s.Offsets()
	blocks := make([]Block, len(s))
	for i, st := range s {
		blocks[i] = Block{Stage: st, StartOffsetMinutes: offsets[i]}
	}
	return blocks
}

func cycles(duration, focus, rest int) (stageclock.Schedule, error) {
	n := duration / (focus + rest)
	if n == 0 {
		return nil, fmt.Errorf("%w: %d minutes, need at least %d", ErrScheduleTooShort, duration, focus+rest)
	}
	s := make(stageclock.Schedule, 0, n*2)
	for i := 1; i <= n; i++ {
		s = append(s, focusBlock(i, focus), breakBlock(rest))
	}
	return s, nil
}

func focusBlock(n, minutes int) stageclock.Stage {
	return stageclock.Stage{
		Name:            fmt.Sprintf("Focus Block %d", n),
		DurationMinutes: minutes,
		Kind:            stageclock.KindFocus,
		Color:           colorFocus,
	}
}

func breakBlock(minutes int) stageclock.Stage {
	return stageclock.Stage{
		Name:            "Break",
		DurationMinutes: minutes,
		Kind:            stageclock.KindBreak,
		Color:           colorBreak,
	}
}
