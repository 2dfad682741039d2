// Package mapping loads the import configuration and resolves bucket object
// paths to the import definition they belong to.
package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
)

// RuleKind distinguishes the two accepted shapes of file_mappings.
type RuleKind int

const (
	// KindPattern rules come from the ordered [pattern, id, destination] list
	// and match the full object path against a regular expression.
	KindPattern RuleKind = iota
	// KindFolder rules come from the legacy {folder: id} object and match the
	// folder portion of the path by string equality. They never move files.
	KindFolder
)

func (k RuleKind) String() string {
	switch k {
	case KindPattern:
		return "pattern"
	case KindFolder:
		return "folder"
	default:
		return fmt.Sprintf("RuleKind(%d)", int(k))
	}
}

// Rule associates a path pattern with an import definition and, optionally,
// the folder processed files are moved into.
type Rule struct {
	Pattern           string
	DefinitionID      string
	DestinationFolder string
	Kind              RuleKind

	re *regexp.Regexp
}

// HasDestination reports whether matched files are renamed after import.
func (r Rule) HasDestination() bool {
	return r.DestinationFolder != ""
}

// PatternRule compiles a regex rule. The expression must match the whole
// object path, so "drop/[^/]+.csv" does not match "drop/a.csv.bak".
func PatternRule(pattern, definitionID, destination string) (Rule, error) {
	if definitionID == "" {
		return Rule{}, &ConfigError{Field: "file_mappings", Reason: fmt.Sprintf("pattern %q has an empty definition id", pattern)}
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return Rule{}, &ConfigError{Field: "file_mappings", Reason: fmt.Sprintf("pattern %q does not compile: %v", pattern, err)}
	}
	return Rule{
		Pattern:           pattern,
		DefinitionID:      definitionID,
		DestinationFolder: destination,
		Kind:              KindPattern,
		re:                re,
	}, nil
}

// FolderRule builds a legacy exact-folder rule.
func FolderRule(folder, definitionID string) (Rule, error) {
	if definitionID == "" {
		return Rule{}, &ConfigError{Field: "file_mappings", Reason: fmt.Sprintf("folder %q has an empty definition id", folder)}
	}
	return Rule{Pattern: folder, DefinitionID: definitionID, Kind: KindFolder}, nil
}

// ImportConfig is the normalized form of a config file: the import API
// location plus the ordered rule list.
type ImportConfig struct {
	BaseURL  string
	APIToken string
	Rules    []Rule
}

// Overrides replace loaded values when non-empty. They are applied after the
// file has been read, so environment or flag values win over the file.
type Overrides struct {
	BaseURL  string
	APIToken string
}

func (o Overrides) apply(cfg *ImportConfig) {
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	if o.APIToken != "" {
		cfg.APIToken = o.APIToken
	}
}

// New builds a configuration from values that were already parsed elsewhere.
func New(baseURL, apiToken string, rules ...Rule) *ImportConfig {
	return &ImportConfig{BaseURL: baseURL, APIToken: apiToken, Rules: rules}
}

// LoadFile reads a JSON config file and applies overrides on top of it.
func LoadFile(path string, overrides Overrides) (*ImportConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping config %s: %w", path, err)
	}
	cfg, err := Parse(data, overrides)
	if err != nil {
		return nil, fmt.Errorf("parse mapping config %s: %w", path, err)
	}
	return cfg, nil
}

type fileConfig struct {
	BaseURL      string          `json:"base_url"`
	APIToken     string          `json:"api_token"`
	FileMappings json.RawMessage `json:"file_mappings"`
}

// Parse decodes a JSON document of the form
//
//	{"base_url": "...", "api_token": "...", "file_mappings": ...}
//
// where file_mappings is either an ordered list of
// [pattern, definitionId, destinationFolder|null] triples or an object
// mapping exact folders to definition ids.
func Parse(data []byte, overrides Overrides) (*ImportConfig, error) {
	var raw fileConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Field: "config", Reason: err.Error()}
	}
	rules, err := decodeMappings(raw.FileMappings)
	if err != nil {
		return nil, err
	}
	cfg := &ImportConfig{BaseURL: raw.BaseURL, APIToken: raw.APIToken, Rules: rules}
	overrides.apply(cfg)
	return cfg, nil
}

func decodeMappings(raw json.RawMessage) ([]Rule, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &ConfigError{Field: "file_mappings", Reason: "is required"}
	}
	switch trimmed[0] {
	case '[':
		return decodeRuleList(trimmed)
	case '{':
		return decodeFolderMap(trimmed)
	default:
		return nil, &ConfigError{Field: "file_mappings", Reason: "must be a list of rules or an object of folders"}
	}
}

func decodeRuleList(data []byte) ([]Rule, error) {
	var entries [][]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &ConfigError{Field: "file_mappings", Reason: err.Error()}
	}
	rules := make([]Rule, 0, len(entries))
	for i, entry := range entries {
		if len(entry) != 3 {
			return nil, &ConfigError{Field: "file_mappings", Reason: fmt.Sprintf("entry %d has %d elements, want [pattern, definitionId, destinationFolder]", i, len(entry))}
		}
		var (
			pattern, definitionID string
			destination           *string
		)
		if err := json.Unmarshal(entry[0], &pattern); err != nil {
			return nil, &ConfigError{Field: "file_mappings", Reason: fmt.Sprintf("entry %d pattern: %v", i, err)}
		}
		if err := json.Unmarshal(entry[1], &definitionID); err != nil {
			return nil, &ConfigError{Field: "file_mappings", Reason: fmt.Sprintf("entry %d definition id: %v", i, err)}
		}
		if err := json.Unmarshal(entry[2], &destination); err != nil {
			return nil, &ConfigError{Field: "file_mappings", Reason: fmt.Sprintf("entry %d destination: %v", i, err)}
		}
		dest := ""
		if destination != nil {
			dest = *destination
		}
		rule, err := PatternRule(pattern, definitionID, dest)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func decodeFolderMap(data []byte) ([]Rule, error) {
	var folders map[string]string
	if err := json.Unmarshal(data, &folders); err != nil {
		return nil, &ConfigError{Field: "file_mappings", Reason: err.Error()}
	}
	// Exact equality matches at most one key; sorting only keeps the
	// normalized list stable between loads.
	keys := make([]string, 0, len(folders))
	for folder := range folders {
		keys = append(keys, folder)
	}
	sort.Strings(keys)
	rules := make([]Rule, 0, len(keys))
	for _, folder := range keys {
		rule, err := FolderRule(folder, folders[folder])
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// RequireLive fails when the values needed to reach the import API are
// missing. Dry runs never contact the API and skip this check.
func (c *ImportConfig) RequireLive() error {
	if c.BaseURL == "" {
		return &ConfigError{Field: "base_url", Reason: "is required outside dry run"}
	}
	if c.APIToken == "" {
		return &ConfigError{Field: "api_token", Reason: "is required outside dry run"}
	}
	return nil
}

// ConfigError reports an unusable configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}
