package catalog

import (
	"testing"

	"github.com/randalmurphal/llmflow/provider"
)

func TestDefaultDescriptorsAreComplete(t *testing.T) {
	descs := Default()
	if len(descs) == 0 {
		t.Fatal("expected built-in descriptors")
	}
	for _, d := range descs {
		if d.ID == "" {
			t.Error("descriptor missing provider id")
		}
		if d.Health != provider.Healthy {
			t.Errorf("%s: built-in descriptors start healthy, got %q", d.ID, d.Health)
		}
		for _, m := range d.Models {
			if m.Capacity <= 0 {
				t.Errorf("%s/%s: capacity %d", d.ID, m.ID, m.Capacity)
			}
			if m.InputCostPerMTok <= 0 || m.OutputCostPerMTok <= 0 {
				t.Errorf("%s/%s: missing pricing", d.ID, m.ID)
			}
			if len(m.Capabilities) == 0 {
				t.Errorf("%s/%s: no capability tags", d.ID, m.ID)
			}
			if m.OutputCostPerMTok < m.InputCostPerMTok {
				t.Errorf("%s/%s: output priced below input", d.ID, m.ID)
			}
		}
	}
}

func TestLookup(t *testing.T) {
	providerID, m, ok := Lookup("claude-sonnet-4")
	if !ok {
		t.Fatal("claude-sonnet-4 not in catalog")
	}
	if providerID != "anthropic" {
		t.Errorf("provider = %q, want anthropic", providerID)
	}
	if m.InputCostPerMTok != 3.0 || m.OutputCostPerMTok != 15.0 {
		t.Errorf("sonnet pricing = %v/%v", m.InputCostPerMTok, m.OutputCostPerMTok)
	}

	if _, _, ok := Lookup("nonexistent-model"); ok {
		t.Error("lookup of unknown model succeeded")
	}
}

func TestDefaultsRegisterAndRank(t *testing.T) {
	reg := provider.NewRegistry()
	for _, d := range Default() {
		reg.Register(d)
	}

	cands, err := reg.Find([]string{CapReasoning, CapLongContext}, provider.FindOptions{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	for _, c := range cands {
		if !c.Model.HasCapabilities([]string{CapReasoning, CapLongContext}) {
			t.Errorf("candidate %s/%s lacks required capabilities", c.ProviderID, c.Model.ID)
		}
	}

	// Only gemini offers over a million tokens of context.
	cands, err = reg.Find(nil, provider.FindOptions{MinCapacity: 1_000_000})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	for _, c := range cands {
		if c.ProviderID != "google" {
			t.Errorf("unexpected provider %s above 1M capacity", c.ProviderID)
		}
	}
}
