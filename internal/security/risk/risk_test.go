package risk

import (
	"testing"
	"time"
)

func fixedScorer(at time.Time) *Scorer {
	s := NewScorer(0, 0)
	s.now = func() time.Time { return at }
	return s
}

func TestScoreBounds(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s := fixedScorer(now)

	clean := Input{UserID: "u1", SourceIP: "10.0.0.4", UserAgent: "trademaster-cli/1.2", RequestedAt: now}
	if got := s.Score(clean); got != 0 {
		t.Fatalf("clean request score = %d, want 0", got)
	}

	worst := Input{}
	got := s.Score(worst)
	if got < 0 || got > 100 {
		t.Fatalf("score out of bounds: %d", got)
	}
	if got != weightPublicIP+weightMissingUA+weightStaleTimestamp+weightNoIdentity {
		t.Fatalf("worst-case score = %d", got)
	}
}

func TestScoreSignals(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s := fixedScorer(now)
	base := Input{UserID: "u1", SourceIP: "192.168.1.9", UserAgent: "ua", RequestedAt: now}

	cases := []struct {
		name   string
		mutate func(Input) Input
		want   int
	}{
		{"public ip", func(in Input) Input { in.SourceIP = "203.0.113.8"; return in }, weightPublicIP},
		{"unparseable ip", func(in Input) Input { in.SourceIP = "not-an-ip"; return in }, weightPublicIP},
		{"ip with port stays private", func(in Input) Input { in.SourceIP = "127.0.0.1:8443"; return in }, 0},
		{"missing user agent", func(in Input) Input { in.UserAgent = ""; return in }, weightMissingUA},
		{"stale timestamp", func(in Input) Input { in.RequestedAt = now.Add(-10 * time.Minute); return in }, weightStaleTimestamp},
		{"future timestamp", func(in Input) Input { in.RequestedAt = now.Add(10 * time.Minute); return in }, weightStaleTimestamp},
		{"zero timestamp", func(in Input) Input { in.RequestedAt = time.Time{}; return in }, weightStaleTimestamp},
		{"missing identity", func(in Input) Input { in.UserID = ""; return in }, weightNoIdentity},
	}
	for _, c := range cases {
		if got := s.Score(c.mutate(base)); got != c.want {
			t.Errorf("%s: score = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestDecideBands(t *testing.T) {
	s := NewScorer(75, 50)
	cases := []struct {
		score int
		want  Decision
	}{
		{0, Allow},
		{49, Allow},
		{50, Flag},
		{74, Flag},
		{75, Block},
		{100, Block},
	}
	for _, c := range cases {
		if got := s.Decide(c.score); got != c.want {
			t.Errorf("Decide(%d) = %v, want %v", c.score, got, c.want)
		}
	}
}
