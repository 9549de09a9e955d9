package config

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/domain"
)

// Pattern-keyed settings are first-match-wins, so their order matters. YAML
// mappings keep document order through yaml.Node. TOML tables do not, so
// TOML takes an array of tables with a pattern key; a plain table is
// accepted with its keys sorted.

type instrumenterOverrides []application.InstrumenterOverride

func (o *instrumenterOverrides) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			var name string
			if err := value.Decode(&name); err != nil {
				return fmt.Errorf("instrumenter %q: %w", key.Value, err)
			}
			*o = append(*o, application.InstrumenterOverride{Pattern: key.Value, Name: name})
		}
		return nil
	case yaml.SequenceNode:
		var items []struct {
			Pattern string `yaml:"pattern"`
			Name    string `yaml:"name"`
		}
		if err := node.Decode(&items); err != nil {
			return err
		}
		for _, item := range items {
			*o = append(*o, application.InstrumenterOverride{Pattern: item.Pattern, Name: item.Name})
		}
		return nil
	default:
		return fmt.Errorf("line %d: instrumenter must be a mapping of pattern to name", node.Line)
	}
}

func (o instrumenterOverrides) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, item := range o {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: item.Pattern},
			&yaml.Node{Kind: yaml.ScalarNode, Value: item.Name},
		)
	}
	return node, nil
}

func (o *instrumenterOverrides) UnmarshalTOML(data any) error {
	return eachTable(data, func(pattern string, table map[string]any, value any) error {
		if table == nil {
			name, ok := value.(string)
			if !ok {
				return fmt.Errorf("instrumenter %q: expected a name, got %T", pattern, value)
			}
			*o = append(*o, application.InstrumenterOverride{Pattern: pattern, Name: name})
			return nil
		}
		name, _ := table["name"].(string)
		*o = append(*o, application.InstrumenterOverride{Pattern: pattern, Name: name})
		return nil
	})
}

type thresholdOverrides []domain.ThresholdOverride

func (o *thresholdOverrides) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			var t domain.Thresholds
			if err := value.Decode(&t); err != nil {
				return fmt.Errorf("override %q: %w", key.Value, err)
			}
			*o = append(*o, domain.ThresholdOverride{Pattern: key.Value, Thresholds: t})
		}
		return nil
	case yaml.SequenceNode:
		var items []struct {
			Pattern           string `yaml:"pattern"`
			domain.Thresholds `yaml:",inline"`
		}
		if err := node.Decode(&items); err != nil {
			return err
		}
		for _, item := range items {
			*o = append(*o, domain.ThresholdOverride{Pattern: item.Pattern, Thresholds: item.Thresholds})
		}
		return nil
	default:
		return fmt.Errorf("line %d: overrides must be a mapping of pattern to thresholds", node.Line)
	}
}

func (o thresholdOverrides) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, item := range o {
		var value yaml.Node
		if err := value.Encode(item.Thresholds); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: item.Pattern}, &value)
	}
	return node, nil
}

func (o *thresholdOverrides) UnmarshalTOML(data any) error {
	return eachTable(data, func(pattern string, table map[string]any, value any) error {
		if table == nil {
			return fmt.Errorf("override %q: expected a table, got %T", pattern, value)
		}
		var t domain.Thresholds
		for _, m := range domain.Metrics {
			raw, ok := table[string(m)]
			if !ok {
				continue
			}
			f, ok := number(raw)
			if !ok {
				return fmt.Errorf("override %q: %s: expected a number, got %T", pattern, m, raw)
			}
			t.Set(m, f)
		}
		*o = append(*o, domain.ThresholdOverride{Pattern: pattern, Thresholds: t})
		return nil
	})
}

// eachTable walks decoded TOML in order. Arrays of tables pass each table
// with its "pattern" key; a plain table passes each key with its value, and
// the value as a table when it is one.
func eachTable(data any, fn func(pattern string, table map[string]any, value any) error) error {
	switch v := data.(type) {
	case []map[string]any:
		for _, t := range v {
			if err := eachPatterned(t, fn); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range v {
			t, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("expected a table, got %T", item)
			}
			if err := eachPatterned(t, fn); err != nil {
				return err
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			table, _ := v[k].(map[string]any)
			if err := fn(k, table, v[k]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("expected an array of tables, got %T", data)
	}
	return nil
}

func eachPatterned(t map[string]any, fn func(string, map[string]any, any) error) error {
	pattern, ok := t["pattern"].(string)
	if !ok || pattern == "" {
		return fmt.Errorf("table is missing a pattern")
	}
	return fn(pattern, t, t)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
