package compose

import (
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"
)

// rawFile is the on-disk structure of a compose file. Only the keys flotilla
// understands are declared; everything else is ignored.
type rawFile struct {
	// Name overrides the project name derived from the directory.
	Name string `yaml:"name"`

	// Version is accepted for compatibility and otherwise ignored.
	Version string `yaml:"version"`

	Services map[string]*rawService `yaml:"services"`
}

// rawService mirrors one entry under "services:". Several keys accept more
// than one shape (string or list, map or list), handled by the custom
// unmarshalers below.
type rawService struct {
	Image       string       `yaml:"image"`
	Build       *rawBuild    `yaml:"build"`
	Command     stringOrList `yaml:"command"`
	Environment mapOrList    `yaml:"environment"`
	Ports       scalarList   `yaml:"ports"`
	Volumes     scalarList   `yaml:"volumes"`
	Replicas    *int         `yaml:"replicas"`
	Deploy      *rawDeploy   `yaml:"deploy"`
	DependsOn   dependsOn    `yaml:"depends_on"`
	Labels      mapOrList    `yaml:"labels"`
	Restart     string       `yaml:"restart"`
}

type rawDeploy struct {
	Replicas *int `yaml:"replicas"`
}

// rawBuild accepts either a context path string or the long form object.
type rawBuild struct {
	Context    string
	Dockerfile string
	Args       mapOrList
	Target     string
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *rawBuild) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		b.Context = node.Value
		return nil
	}
	var long struct {
		Context    string    `yaml:"context"`
		Dockerfile string    `yaml:"dockerfile"`
		Args       mapOrList `yaml:"args"`
		Target     string    `yaml:"target"`
	}
	if err := node.Decode(&long); err != nil {
		return err
	}
	*b = rawBuild(long)
	return nil
}

// stringOrList is a command given either as a shell-like string or as an
// argv list. Strings are split with shell quoting rules but without any
// variable expansion.
type stringOrList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *stringOrList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*s = nil
			return nil
		}
		args, err := shellwords.Parse(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: cannot split command %q: %w", node.Line, node.Value, err)
		}
		*s = args
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: command entries must be scalars", item.Line)
			}
			out = append(out, item.Value)
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or a list", node.Line)
	}
}

// mapOrList is a string map given either as a mapping or as a list of
// "KEY=VALUE" entries. A list entry without "=" maps to the empty string.
type mapOrList map[string]string

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *mapOrList) UnmarshalYAML(node *yaml.Node) error {
	out := map[string]string{}
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			if val.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: value of %q must be a scalar", val.Line, key.Value)
			}
			if val.Tag == "!!null" {
				out[key.Value] = ""
				continue
			}
			out[key.Value] = val.Value
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: list entries must be KEY=VALUE strings", item.Line)
			}
			key, val, _ := strings.Cut(item.Value, "=")
			out[key] = val
		}
	case yaml.ScalarNode:
		if node.Tag != "!!null" {
			return fmt.Errorf("line %d: expected a mapping or a list", node.Line)
		}
	default:
		return fmt.Errorf("line %d: expected a mapping or a list", node.Line)
	}
	*m = out
	return nil
}

// scalarList is a list of short-syntax strings. Numbers such as a bare
// container port are kept in their literal form.
type scalarList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *scalarList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: expected a list", node.Line)
	}
	out := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: only the short string syntax is supported", item.Line)
		}
		out = append(out, item.Value)
	}
	*l = out
	return nil
}

// dependsOn accepts the list form and the map form (whose conditions are
// ignored: ordering is always "started").
type dependsOn []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *dependsOn) UnmarshalYAML(node *yaml.Node) error {
	var out []string
	switch node.Kind {
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: depends_on entries must be service names", item.Line)
			}
			out = append(out, item.Value)
		}
	case yaml.MappingNode:
		for i := 0; i < len(node.Content); i += 2 {
			out = append(out, node.Content[i].Value)
		}
	default:
		return fmt.Errorf("line %d: depends_on must be a list or a mapping", node.Line)
	}
	*d = out
	return nil
}
