package providers

import "strings"

// ProviderRef is one entry of a provider chain such as
// "openai:work@gpt-4o|ollama|mock".
type ProviderRef struct {
	Raw      string
	Name     string
	KeyAlias string
	// Model overrides the provider's default chat model in an LLM chain and
	// its embedding model in an embedding chain.
	Model string
}

// ParseProviderList splits a '|' separated chain. Names are lowercased and
// repeated entries keep only their first position. An empty chain means mock.
func ParseProviderList(raw string) []ProviderRef {
	seen := map[string]struct{}{}
	out := make([]ProviderRef, 0, 4)
	for _, p := range strings.Split(raw, "|") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}

		ref := ProviderRef{Raw: p}
		name := p
		if at := strings.LastIndex(name, "@"); at >= 0 {
			ref.Model = strings.TrimSpace(name[at+1:])
			name = name[:at]
		}
		if before, after, ok := strings.Cut(name, ":"); ok {
			name = before
			ref.KeyAlias = strings.TrimSpace(after)
		}
		ref.Name = strings.ToLower(strings.TrimSpace(name))
		out = append(out, ref)
	}
	if len(out) == 0 {
		out = append(out, ProviderRef{Raw: "mock", Name: "mock"})
	}
	return out
}
