package domain

import (
	"errors"
	"testing"
)

func TestParseDomain(t *testing.T) {
	for _, d := range Domains() {
		got, err := ParseDomain(string(d))
		if err != nil || got != d {
			t.Errorf("ParseDomain(%q) = %q, %v", d, got, err)
		}
	}
	if _, err := ParseDomain("gardening"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := ParseDomain(""); err == nil {
		t.Error("empty domain should be rejected")
	}
}

func TestAgentDescriptorValidate(t *testing.T) {
	valid := AgentDescriptor{
		ID:           "research-1",
		Domain:       DomainResearch,
		Capabilities: []Capability{CapMarketResearch},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	cases := []struct {
		name string
		mut  func(*AgentDescriptor)
	}{
		{"missing id", func(a *AgentDescriptor) { a.ID = "" }},
		{"bad domain", func(a *AgentDescriptor) { a.Domain = "gardening" }},
		{"no capabilities", func(a *AgentDescriptor) { a.Capabilities = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := valid
			tc.mut(&a)
			if err := a.Validate(); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestHasCapability(t *testing.T) {
	a := AgentDescriptor{Capabilities: []Capability{CapForecasting, CapReporting}}
	if !a.HasCapability(CapReporting) {
		t.Error("expected reporting capability")
	}
	if a.HasCapability(CapOutreach) {
		t.Error("unexpected outreach capability")
	}
}

func TestRateLimitCeiling(t *testing.T) {
	rl := RateLimit{Limit: 100, WindowSeconds: 3600, BurstAllowance: 10}
	if rl.Ceiling() != 110 {
		t.Errorf("Ceiling = %d, want 110", rl.Ceiling())
	}
}
