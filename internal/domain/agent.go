package domain

import (
	"fmt"
	"time"
)

// Domain is a fixed business vertical that partitions the queue and worker pool.
type Domain string

const (
	DomainResearch   Domain = "research"
	DomainMarketing  Domain = "marketing"
	DomainSales      Domain = "sales"
	DomainFinance    Domain = "finance"
	DomainOperations Domain = "operations"
	DomainAnalytics  Domain = "analytics"
)

// Domains lists every valid domain in a stable order.
func Domains() []Domain {
	return []Domain{
		DomainResearch,
		DomainMarketing,
		DomainSales,
		DomainFinance,
		DomainOperations,
		DomainAnalytics,
	}
}

// ParseDomain validates a domain string.
func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	switch d {
	case DomainResearch, DomainMarketing, DomainSales, DomainFinance, DomainOperations, DomainAnalytics:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown domain %q", ErrInvalidInput, s)
}

// Capability identifies a kind of work an agent can perform.
type Capability string

const (
	CapMarketResearch     Capability = "market_research"
	CapCompetitorAnalysis Capability = "competitor_analysis"
	CapTrendAnalysis      Capability = "trend_analysis"
	CapContentCreation    Capability = "content_creation"
	CapCampaignPlanning   Capability = "campaign_planning"
	CapLeadGeneration     Capability = "lead_generation"
	CapOutreach           Capability = "outreach"
	CapForecasting        Capability = "forecasting"
	CapReporting          Capability = "reporting"
	CapDataPipeline       Capability = "data_pipeline"
	CapAnomalyDetection   Capability = "anomaly_detection"
)

// AgentDescriptor describes a registered agent. Descriptors are created at
// bootstrap and treated as immutable after registration.
type AgentDescriptor struct {
	ID              string        `json:"id" yaml:"id"`
	Domain          Domain        `json:"domain" yaml:"domain"`
	Capabilities    []Capability  `json:"capabilities" yaml:"capabilities"`
	PriorityWeight  int           `json:"priority_weight" yaml:"priority_weight"`
	MaxConcurrent   int           `json:"max_concurrent" yaml:"max_concurrent"`
	RetryAttempts   int           `json:"retry_attempts" yaml:"retry_attempts"`
	HourlyRateLimit int           `json:"hourly_rate_limit" yaml:"hourly_rate_limit"`
	Timeout         time.Duration `json:"timeout" yaml:"-"`
}

// HasCapability reports whether the descriptor lists the given capability.
func (a AgentDescriptor) HasCapability(c Capability) bool {
	for _, have := range a.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Validate checks the descriptor for required fields.
func (a AgentDescriptor) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: agent id is required", ErrInvalidInput)
	}
	if _, err := ParseDomain(string(a.Domain)); err != nil {
		return err
	}
	if len(a.Capabilities) == 0 {
		return fmt.Errorf("%w: agent %q has no capabilities", ErrInvalidInput, a.ID)
	}
	return nil
}
