package aliases

import (
	"fmt"
	"strings"
)

type Alias struct {
	Inbound  string `yaml:"model_name"`
	Upstream string `yaml:"upstream_model"`
}

// Table maps Ollama model names to Anthropic model ids and back. It is
// immutable once built and safe for concurrent use.
type Table struct {
	aliases    []Alias
	toUpstream map[string]string
	toInbound  map[string]string
}

var defaultAliases = []Alias{
	{Inbound: "claude-4-sonnet", Upstream: "claude-4-sonnet-20250514"},
	{Inbound: "claude-4-sonnet:latest", Upstream: "claude-4-sonnet-20250514"},
	{Inbound: "claude-4-opus", Upstream: "claude-4-opus-20250514"},
	{Inbound: "claude-4-opus:latest", Upstream: "claude-4-opus-20250514"},
	{Inbound: "claude-sonnet", Upstream: "claude-4-sonnet-20250514"},
	{Inbound: "claude-opus", Upstream: "claude-4-opus-20250514"},
}

func Default() *Table {
	t, err := New(defaultAliases)
	if err != nil {
		panic(fmt.Sprintf("aliases: invalid default table: %v", err))
	}
	return t
}

// New builds a table from aliases in order. Inbound names must be unique;
// several inbound names may share one upstream id, in which case the last
// one registered wins the reverse lookup.
func New(list []Alias) (*Table, error) {
	t := &Table{
		aliases:    make([]Alias, 0, len(list)),
		toUpstream: make(map[string]string, len(list)),
		toInbound:  make(map[string]string, len(list)),
	}
	for i, a := range list {
		inbound := strings.TrimSpace(a.Inbound)
		upstream := strings.TrimSpace(a.Upstream)
		if inbound == "" {
			return nil, fmt.Errorf("alias[%d]: inbound model name is required", i)
		}
		if upstream == "" {
			return nil, fmt.Errorf("alias[%d]: upstream model is required", i)
		}
		if _, exists := t.toUpstream[inbound]; exists {
			return nil, fmt.Errorf("duplicate model name: %s", inbound)
		}
		t.aliases = append(t.aliases, Alias{Inbound: inbound, Upstream: upstream})
		t.toUpstream[inbound] = upstream
		t.toInbound[upstream] = inbound
	}
	return t, nil
}

func (t *Table) ResolveUpstream(inbound string) string {
	if upstream, ok := t.toUpstream[inbound]; ok {
		return upstream
	}
	return inbound
}

func (t *Table) ResolveInbound(upstream string) string {
	if inbound, ok := t.toInbound[upstream]; ok {
		return inbound
	}
	return upstream
}

func (t *Table) List() []Alias {
	out := make([]Alias, len(t.aliases))
	copy(out, t.aliases)
	return out
}

func (t *Table) Len() int {
	return len(t.aliases)
}

func (t *Table) Names() []string {
	names := make([]string, 0, len(t.aliases))
	for _, a := range t.aliases {
		names = append(names, a.Inbound)
	}
	return names
}

// UpstreamModels lists the distinct upstream ids in table order.
func (t *Table) UpstreamModels() []string {
	seen := make(map[string]struct{}, len(t.aliases))
	out := make([]string, 0, len(t.aliases))
	for _, a := range t.aliases {
		if _, ok := seen[a.Upstream]; ok {
			continue
		}
		seen[a.Upstream] = struct{}{}
		out = append(out, a.Upstream)
	}
	return out
}
