// Package risk scores a request's bounded risk signals into [0,100].
package risk

import (
	"net"
	"time"
)

// Default thresholds; overridable via config.
const (
	DefaultHighThreshold = 75
	DefaultFlagThreshold = 50
)

// Signal weights. Each signal is bounded so the sum stays within [0,100].
const (
	weightPublicIP       = 25
	weightMissingUA      = 15
	weightStaleTimestamp = 30
	weightNoIdentity     = 30
)

// maxReplayDistance is how old a request timestamp may be before it counts
// as a replay signal.
const maxReplayDistance = 5 * time.Minute

// Input carries the signals the scorer inspects.
type Input struct {
	UserID      string
	SourceIP    string
	UserAgent   string
	RequestedAt time.Time
}

// Decision classifies a score against the configured thresholds.
type Decision int

const (
	// Allow passes silently.
	Allow Decision = iota
	// Flag allows the request but marks it for audit.
	Flag
	// Block denies the request.
	Block
)

// Scorer combines bounded signals into a risk score and a decision.
type Scorer struct {
	HighThreshold int
	FlagThreshold int
	now           func() time.Time
}

// NewScorer returns a Scorer with the given thresholds; non-positive values
// fall back to the defaults.
func NewScorer(highThreshold, flagThreshold int) *Scorer {
	if highThreshold <= 0 {
		highThreshold = DefaultHighThreshold
	}
	if flagThreshold <= 0 {
		flagThreshold = DefaultFlagThreshold
	}
	return &Scorer{HighThreshold: highThreshold, FlagThreshold: flagThreshold, now: time.Now}
}

// Score computes the risk score for in.
func (s *Scorer) Score(in Input) int {
	score := 0
	if !isPrivateIP(in.SourceIP) {
		score += weightPublicIP
	}
	if in.UserAgent == "" {
		score += weightMissingUA
	}
	now := s.now()
	if in.RequestedAt.IsZero() || now.Sub(in.RequestedAt) > maxReplayDistance || in.RequestedAt.Sub(now) > maxReplayDistance {
		score += weightStaleTimestamp
	}
	if in.UserID == "" {
		score += weightNoIdentity
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Decide classifies a score: >= HighThreshold blocks, >= FlagThreshold is
// allowed but flagged for audit, below passes silently.
func (s *Scorer) Decide(score int) Decision {
	switch {
	case score >= s.HighThreshold:
		return Block
	case score >= s.FlagThreshold:
		return Flag
	}
	return Allow
}

// isPrivateIP reports whether addr parses to a private, loopback, or
// link-local address. Unparseable addresses count as public.
func isPrivateIP(addr string) bool {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
}
