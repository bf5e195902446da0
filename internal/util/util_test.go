package util

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pterm/pterm"
)

// TestNewPeerID verifies generated identities are valid and vary.
func TestNewPeerID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewPeerID()
		if !ValidPeerID(id) {
			t.Fatalf("NewPeerID returned invalid id %q", id)
		}
		seen[id] = true
	}
	// 62^4 possibilities; 100 draws colliding down to a handful means a broken RNG.
	if len(seen) < 90 {
		t.Fatalf("only %d distinct ids in 100 draws", len(seen))
	}
}

// TestNewPeerIDAlphabet verifies every alphabet character can be drawn.
func TestNewPeerIDAlphabet(t *testing.T) {
	seen := make(map[rune]bool)
	for i := 0; i < 2000; i++ {
		for _, c := range NewPeerID() {
			seen[c] = true
		}
	}
	if len(seen) != len(peerIDAlphabet) {
		t.Fatalf("drew %d distinct characters, want %d", len(seen), len(peerIDAlphabet))
	}
}

// TestValidPeerID covers the format check used by connect.
func TestValidPeerID(t *testing.T) {
	testCases := []struct {
		id   string
		want bool
	}{
		{"aaaa", true},
		{"Zz09", true},
		{"", false},
		{"abc", false},
		{"12345", false},
		{"ab-d", false},
		{"ab d", false},
		{"äbc", false},
	}

	for _, tc := range testCases {
		if got := ValidPeerID(tc.id); got != tc.want {
			t.Errorf("ValidPeerID(%q): got %v, want %v", tc.id, got, tc.want)
		}
	}
}

// TestFormatRate checks the fixed-width rate rendering.
func TestFormatRate(t *testing.T) {
	testCases := []struct {
		n    int64
		want string
	}{
		{0, "  0.0/s"},
		{125, " 12.5/s"},
		{12000, " 1.2k/s"},
	}

	for _, tc := range testCases {
		got := formatRate(tc.n, 10*time.Second)
		if got != tc.want {
			t.Errorf("formatRate(%d): got %q, want %q", tc.n, got, tc.want)
		}
		if len(got) != 7 {
			t.Errorf("formatRate(%d): width %d, want 7", tc.n, len(got))
		}
	}
}

// TestStatsSnapshot checks counters and delta arithmetic.
func TestStatsSnapshot(t *testing.T) {
	var s Stats
	s.AddSent()
	s.AddSent()
	s.AddRecv()
	s.AddAccepted()
	s.AddDuplicate()
	s.AddCorrupt()
	s.AddSendFailure()

	first := s.Snapshot()
	want := Snapshot{Sent: 2, Recv: 1, Accepted: 1, Duplicate: 1, Corrupt: 1, SendFailures: 1}
	if first != want {
		t.Fatalf("snapshot: got %+v, want %+v", first, want)
	}

	s.AddSent()
	delta := s.Snapshot().Sub(first)
	if delta != (Snapshot{Sent: 1}) {
		t.Fatalf("delta: got %+v", delta)
	}

	line := formatStats(delta, time.Second)
	if !strings.Contains(line, "Out:   1.0/s") {
		t.Fatalf("unexpected stats line %q", line)
	}
}

// TestLogLevels verifies debug output is filtered until EnableDebug and
// that SetLogOutput captures every level.
func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	prevLevel := pterm.DefaultLogger.Level
	SetLogOutput(&buf)
	t.Cleanup(func() {
		pterm.DefaultLogger.Level = prevLevel
		SetLogOutput(os.Stderr)
	})

	pterm.DefaultLogger.Level = pterm.LogLevelInfo
	LogDebug("hidden %d", 1)
	LogWarning("shown %d", 2)

	if strings.Contains(buf.String(), "hidden 1") {
		t.Fatal("debug line printed at info level")
	}
	if !strings.Contains(buf.String(), "shown 2") {
		t.Fatalf("warning missing from output: %q", buf.String())
	}
	if DebugEnabled() {
		t.Fatal("DebugEnabled true at info level")
	}

	EnableDebug()
	LogDebug("visible %d", 3)
	if !DebugEnabled() || !strings.Contains(buf.String(), "visible 3") {
		t.Fatalf("debug line missing after EnableDebug: %q", buf.String())
	}
}
