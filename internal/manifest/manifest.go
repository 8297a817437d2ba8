// Package manifest loads per-service asset declarations (asset-service.yaml).
package manifest

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultSourceMapExtension is used when a group does not declare one.
const DefaultSourceMapExtension = ".map"

// Service is the decoded manifest of one service directory.
type Service struct {
	// Name is service.name, or the directory name when unset.
	Name string `yaml:"-"`
	// Repo is the directory name.
	Repo string `yaml:"-"`
	// Dir is the absolute service directory.
	Dir string `yaml:"-"`

	Meta       ServiceMeta  `yaml:"service"`
	Tags       []string     `yaml:"tags"`
	Build      *BuildConfig `yaml:"build"`
	Assets     *AssetGroups `yaml:"assets"`
	Files      FileGroups   `yaml:"files"`
	Libraries  []PathGlob   `yaml:"libraries"`
	SiteAssets []PathGlob   `yaml:"siteAssets"`
}

// ServiceMeta holds the service block.
type ServiceMeta struct {
	Name string `yaml:"name"`
}

// HasAssets reports whether the service declares any asset or file groups.
func (s *Service) HasAssets() bool {
	return (s.Assets != nil && len(s.Assets.Types) > 0) || len(s.Files) > 0
}

// HasTag reports whether tag is listed in the manifest tags.
func (s *Service) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// BuildConfig is the declarative build command of a service.
type BuildConfig struct {
	Command CommandSpec  `yaml:"command"`
	Watch   *WatchConfig `yaml:"watch"`
}

// WatchConfig overrides the command used in watch mode.
type WatchConfig struct {
	Command CommandSpec `yaml:"command"`
	Ready   string      `yaml:"ready"`
	// Timeout is in milliseconds.
	Timeout int `yaml:"timeout"`
}

// CommandSpec is either a single command line or an argument vector.
type CommandSpec struct {
	Line   string
	Args   []string
	Vector bool
}

// IsZero reports whether no command was declared.
func (c CommandSpec) IsZero() bool {
	return !c.Vector && c.Line == ""
}

// String renders the command as declared: the raw line or the JSON vector.
func (c CommandSpec) String() string {
	if !c.Vector {
		return c.Line
	}
	b, err := json.Marshal(c.Args)
	if err != nil {
		return fmt.Sprint(c.Args)
	}
	return string(b)
}

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (c *CommandSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*c = CommandSpec{Line: node.Value}
		return nil
	case yaml.SequenceNode:
		var args []string
		if err := node.Decode(&args); err != nil {
			return err
		}
		*c = CommandSpec{Args: args, Vector: true}
		return nil
	default:
		return fmt.Errorf("line %d: build command must be a string or a list of strings", node.Line)
	}
}

// Minification describes how a group's files are treated by the bundler.
type Minification struct {
	AlreadyMinified    bool
	SourceMapExtension string
}

// TagPatterns lists glob patterns per bundle tag in declaration order.
type TagPatterns []TagPattern

// TagPattern is one tag with its patterns.
type TagPattern struct {
	Tag      string
	Patterns []string
}

// UnmarshalYAML decodes a tag -> patterns mapping, keeping key order.
// Tags with a null value are skipped.
func (tp *TagPatterns) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of tag to patterns", node.Line)
	}
	out := make(TagPatterns, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		patterns, err := decodePatterns(node.Content[i+1])
		if err != nil {
			return err
		}
		if patterns == nil {
			continue
		}
		out = append(out, TagPattern{Tag: node.Content[i].Value, Patterns: patterns})
	}
	*tp = out
	return nil
}

// TypeTags is one asset type with its tagged patterns.
type TypeTags struct {
	Type string
	Tags TagPatterns
}

// AssetGroups is the assets block: type -> tag -> patterns sharing one base path.
type AssetGroups struct {
	BasePath     string
	Minification Minification
	Types        []TypeTags
}

// UnmarshalYAML splits the known settings from the type entries.
func (a *AssetGroups) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: assets must be a mapping", node.Line)
	}
	out := AssetGroups{BasePath: ".", Minification: Minification{SourceMapExtension: DefaultSourceMapExtension}}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		handled, err := out.Minification.decodeSetting(key, value, &out.BasePath)
		if err != nil {
			return err
		}
		if handled || isNull(value) {
			continue
		}
		var tags TagPatterns
		if err := value.Decode(&tags); err != nil {
			return fmt.Errorf("assets.%s: %w", key, err)
		}
		out.Types = append(out.Types, TypeTags{Type: key, Tags: tags})
	}
	*a = out
	return nil
}

// TypePatterns is one asset type with its patterns.
type TypePatterns struct {
	Type     string
	Patterns []string
}

// FileGroup is one entry of the files block, keyed by tag.
type FileGroup struct {
	Tag          string
	BasePath     string
	Minification Minification
	Types        []TypePatterns
}

// FileGroups is the files block in declaration order.
type FileGroups []FileGroup

// UnmarshalYAML decodes tag -> {basePath, alreadyMinified, sourceMapExtension, type -> patterns}.
func (fg *FileGroups) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: files must be a mapping of tag to groups", node.Line)
	}
	out := make(FileGroups, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		tag, body := node.Content[i].Value, node.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return fmt.Errorf("line %d: files.%s must be a mapping", body.Line, tag)
		}
		group := FileGroup{Tag: tag, BasePath: ".", Minification: Minification{SourceMapExtension: DefaultSourceMapExtension}}
		for j := 0; j+1 < len(body.Content); j += 2 {
			key, value := body.Content[j].Value, body.Content[j+1]
			handled, err := group.Minification.decodeSetting(key, value, &group.BasePath)
			if err != nil {
				return err
			}
			if handled {
				continue
			}
			patterns, err := decodePatterns(value)
			if err != nil {
				return fmt.Errorf("files.%s.%s: %w", tag, key, err)
			}
			if patterns == nil {
				continue
			}
			group.Types = append(group.Types, TypePatterns{Type: key, Patterns: patterns})
		}
		out = append(out, group)
	}
	*fg = out
	return nil
}

// PathGlob is a library or site asset declaration.
type PathGlob struct {
	BasePath string `yaml:"basePath"`
	Glob     string `yaml:"glob"`
}

func (m *Minification) decodeSetting(key string, value *yaml.Node, basePath *string) (bool, error) {
	switch key {
	case "basePath":
		if value.Value != "" {
			*basePath = value.Value
		}
	case "alreadyMinified":
		if err := value.Decode(&m.AlreadyMinified); err != nil {
			return true, fmt.Errorf("alreadyMinified: %w", err)
		}
	case "sourceMapExtension":
		if value.Value != "" {
			m.SourceMapExtension = value.Value
		}
	default:
		return false, nil
	}
	return true, nil
}

func decodePatterns(node *yaml.Node) ([]string, error) {
	if isNull(node) {
		return nil, nil
	}
	if node.Kind == yaml.ScalarNode {
		return []string{node.Value}, nil
	}
	var patterns []string
	if err := node.Decode(&patterns); err != nil {
		return nil, err
	}
	if patterns == nil {
		patterns = []string{}
	}
	return patterns, nil
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.Tag == "!!null"
}
