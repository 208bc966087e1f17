package intent

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed aliases.yaml
var defaultAliasesYAML []byte

// Aliases normalises slot values extracted from free text.
type Aliases struct {
	Apps       map[string]string `yaml:"apps"`
	Currencies map[string]string `yaml:"currencies"`
}

// ParseAliases decodes an alias table in YAML form.
func ParseAliases(data []byte) (Aliases, error) {
	var a Aliases
	if err := yaml.Unmarshal(data, &a); err != nil {
		return Aliases{}, fmt.Errorf("parse alias table: %w", err)
	}
	a.Apps = lowerKeys(a.Apps)
	a.Currencies = lowerKeys(a.Currencies)
	return a, nil
}

// LoadAliases reads an alias table from disk. Entries extend the built-in table.
func LoadAliases(path string) (Aliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Aliases{}, fmt.Errorf("read alias table %s: %w", path, err)
	}
	extra, err := ParseAliases(data)
	if err != nil {
		return Aliases{}, err
	}
	return DefaultAliases().merge(extra), nil
}

// DefaultAliases returns the built-in alias table.
func DefaultAliases() Aliases {
	a, err := ParseAliases(defaultAliasesYAML)
	if err != nil {
		panic(err)
	}
	return a
}

// App returns the canonical application name for a spoken one.
func (a Aliases) App(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if canon, ok := a.Apps[name]; ok {
		return canon
	}
	return name
}

// Currency returns the ISO code for a spoken currency or symbol, or "" when unknown.
func (a Aliases) Currency(word string) string {
	return a.Currencies[strings.TrimSpace(strings.ToLower(word))]
}

func (a Aliases) merge(extra Aliases) Aliases {
	out := Aliases{
		Apps:       make(map[string]string, len(a.Apps)+len(extra.Apps)),
		Currencies: make(map[string]string, len(a.Currencies)+len(extra.Currencies)),
	}
	for k, v := range a.Apps {
		out.Apps[k] = v
	}
	for k, v := range extra.Apps {
		out.Apps[k] = v
	}
	for k, v := range a.Currencies {
		out.Currencies[k] = v
	}
	for k, v := range extra.Currencies {
		out.Currencies[k] = v
	}
	return out
}

func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}
