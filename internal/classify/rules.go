package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"magnolia/internal/services"
)

// Rule maps extensions or a content-type glob to a category. A rule matches
// when the entry's extension is listed or its content type matches the glob.
type Rule struct {
	Extensions  []string `toml:"extensions" yaml:"extensions" json:"extensions"`
	ContentType string   `toml:"content_type" yaml:"content_type" json:"content_type"`
	Category    string   `toml:"category" yaml:"category" json:"category"`
}

type ruleFile struct {
	Rules []Rule `toml:"rules" yaml:"rules" json:"rules"`
}

// DefaultRules returns the built-in rule table. Extension rules come first so
// a known extension wins over a generic content type.
func DefaultRules() []Rule {
	return []Rule{
		{Extensions: []string{"jpg", "jpeg", "png", "gif", "bmp", "tif", "tiff", "webp", "heic", "heif", "svg", "raw", "cr2", "nef"}, Category: "images"},
		{Extensions: []string{"mp4", "mkv", "mov", "avi", "wmv", "webm", "m4v", "mpg", "mpeg"}, Category: "videos"},
		{Extensions: []string{"mp3", "flac", "wav", "aac", "ogg", "m4a", "opus", "wma"}, Category: "audio"},
		{Extensions: []string{"pdf", "doc", "docx", "odt", "rtf", "txt", "md", "epub", "pages"}, Category: "documents"},
		{Extensions: []string{"xls", "xlsx", "ods", "csv", "tsv", "numbers"}, Category: "spreadsheets"},
		{Extensions: []string{"ppt", "pptx", "odp", "key"}, Category: "presentations"},
		{Extensions: []string{"zip", "tar", "gz", "tgz", "bz2", "xz", "zst", "7z", "rar"}, Category: "archives"},
		{Extensions: []string{"go", "js", "ts", "py", "rb", "java", "c", "h", "cpp", "rs", "sh", "json", "yaml", "yml", "toml", "html", "css"}, Category: "code"},
		{Extensions: []string{"ttf", "otf", "woff", "woff2"}, Category: "fonts"},
		{ContentType: "image/*", Category: "images"},
		{ContentType: "video/*", Category: "videos"},
		{ContentType: "audio/*", Category: "audio"},
		{ContentType: "application/pdf", Category: "documents"},
		{ContentType: "text/*", Category: "documents"},
	}
}

// LoadRules reads a rule table from a .toml, .yaml/.yml or .json file. The
// document holds a single "rules" list.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "classify", "load rules", path, err)
		}
		return nil, services.Wrap(services.ErrConfiguration, "classify", "load rules", path, err)
	}

	var file ruleFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&file)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&file)
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&file)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "classify", "load rules", fmt.Sprintf("unsupported rules file extension %q", ext), nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "classify", "parse rules", path, err)
	}
	if len(file.Rules) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "classify", "parse rules", path+" defines no rules", nil)
	}
	if err := ValidateRules(file.Rules); err != nil {
		return nil, err
	}
	return file.Rules, nil
}

// ValidateRules checks every rule for a valid category and at least one
// usable matcher.
func ValidateRules(rules []Rule) error {
	for i, rule := range rules {
		if err := ValidateCategory(rule.Category); err != nil {
			return services.Wrap(services.ErrConfiguration, "classify", "validate rules", fmt.Sprintf("rule %d", i+1), err)
		}
		if len(normalizeExtensions(rule.Extensions)) == 0 && strings.TrimSpace(rule.ContentType) == "" {
			return services.Wrap(services.ErrConfiguration, "classify", "validate rules", fmt.Sprintf("rule %d has neither extensions nor content_type", i+1), nil)
		}
		if pattern := strings.TrimSpace(rule.ContentType); pattern != "" {
			if _, err := path.Match(pattern, ""); err != nil {
				return services.Wrap(services.ErrConfiguration, "classify", "validate rules", fmt.Sprintf("rule %d content_type %q", i+1, pattern), err)
			}
		}
	}
	return nil
}

// ValidateCategory requires a non-empty relative slash path without ".."
// elements, so a category can never place files outside the destination.
func ValidateCategory(category string) error {
	category = strings.TrimSpace(category)
	if category == "" {
		return errors.New("category is empty")
	}
	if strings.HasPrefix(category, "/") || filepath.IsAbs(category) || strings.Contains(category, "\\") {
		return fmt.Errorf("category %q must be a relative slash path", category)
	}
	for _, element := range strings.Split(category, "/") {
		if element == ".." {
			return fmt.Errorf("category %q must not contain '..'", category)
		}
	}
	if cleaned := path.Clean(category); cleaned == "." {
		return fmt.Errorf("category %q resolves to the destination root", category)
	}
	return nil
}

func normalizeExtensions(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), "."))
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}
