package domain

// RateLimit is a fixed-window limit with burst allowance. A window accepts at
// most Limit+BurstAllowance events.
type RateLimit struct {
	Limit          int `json:"limit" yaml:"limit"`
	WindowSeconds  int `json:"window_seconds" yaml:"window_seconds"`
	BurstAllowance int `json:"burst_allowance" yaml:"burst_allowance"`
}

// Ceiling returns the maximum accepted events per window.
func (r RateLimit) Ceiling() int64 {
	return int64(r.Limit + r.BurstAllowance)
}
