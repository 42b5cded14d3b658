package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/focusroom/focusd/internal/sanitize"
)

const maxTemplateFileSize = 256 * 1024

// fileDoc is the on-disk layout shared by the YAML and TOML formats.
type fileDoc struct {
	Templates []Template `koanf:"templates" toml:"templates"`
}

// LoadFile reads templates from a YAML (.yaml, .yml) or TOML (.toml) file.
// Every template is validated; the first invalid one fails the load.
func LoadFile(path string) ([]Template, error) {
	path, err := sanitize.ValidatePath(path, "")
	if err != nil {
		return nil, fmt.Errorf("template file: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat template file: %w", err)
	}
	if info.Size() > maxTemplateFileSize {
		return nil, fmt.Errorf("template file too large: %d bytes (max %d)", info.Size(), maxTemplateFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".toml":
		return ParseTOML(data)
	}
	return nil, fmt.Errorf("unsupported template file extension %q", filepath.Ext(path))
}

// ParseYAML decodes a templates document in YAML.
func ParseYAML(data []byte) ([]Template, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse yaml templates: %w", err)
	}

	var doc fileDoc
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode yaml templates: %w", err)
	}
	return validated(doc.Templates)
}

// ParseTOML decodes a templates document in TOML.
func ParseTOML(data []byte) ([]Template, error) {
	var doc fileDoc
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("parse toml templates: %w", err)
	}
	return validated(doc.Templates)
}

func validated(list []Template) ([]Template, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: file defines no templates", ErrInvalidTemplate)
	}
	seen := make(map[string]bool, len(list))
	for _, t := range list {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidTemplate, t.ID)
		}
		seen[t.ID] = true
	}
	return list, nil
}
