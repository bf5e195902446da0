package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Frame counters
// ──────────────────────────────────────────────────────────────────────────────

// Stats counts frame traffic for one node. The zero value is ready to use.
type Stats struct {
	FramesSent    atomic.Int64 // every transmission, redundant copies included
	FramesRecv    atomic.Int64 // every inbound message
	FramesAccept  atomic.Int64 // delivered to the note sink
	FramesDup     atomic.Int64 // dropped by the sequence filter
	FramesCorrupt atomic.Int64 // malformed or failed the checksum
	SendFailures  atomic.Int64
}

func (s *Stats) AddSent()        { s.FramesSent.Add(1) }
func (s *Stats) AddRecv()        { s.FramesRecv.Add(1) }
func (s *Stats) AddAccepted()    { s.FramesAccept.Add(1) }
func (s *Stats) AddDuplicate()   { s.FramesDup.Add(1) }
func (s *Stats) AddCorrupt()     { s.FramesCorrupt.Add(1) }
func (s *Stats) AddSendFailure() { s.SendFailures.Add(1) }

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Sent, Recv, Accepted, Duplicate, Corrupt, SendFailures int64
}

// Snapshot loads every counter.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Sent:         s.FramesSent.Load(),
		Recv:         s.FramesRecv.Load(),
		Accepted:     s.FramesAccept.Load(),
		Duplicate:    s.FramesDup.Load(),
		Corrupt:      s.FramesCorrupt.Load(),
		SendFailures: s.SendFailures.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs frame statistics every
// interval, skipping quiet periods. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, s *Stats, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev Snapshot
		for {
			select {
			case <-ticker.C:
				cur := s.Snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur.Sub(prev), interval))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sub returns the per-field difference s - o.
func (s Snapshot) Sub(o Snapshot) Snapshot {
	return Snapshot{
		Sent:         s.Sent - o.Sent,
		Recv:         s.Recv - o.Recv,
		Accepted:     s.Accepted - o.Accepted,
		Duplicate:    s.Duplicate - o.Duplicate,
		Corrupt:      s.Corrupt - o.Corrupt,
		SendFailures: s.SendFailures - o.SendFailures,
	}
}

// formatRate formats a per-second rate with fixed width (exactly 7 chars),
// for example: "  0.0/s", " 12.5/s", " 1.2k/s".
func formatRate(n int64, interval time.Duration) string {
	r := float64(n) / interval.Seconds()
	if r >= 1000 {
		return fmt.Sprintf("%4.1fk/s", r/1000)
	}
	return fmt.Sprintf("%5.1f/s", r)
}

// formatStats returns a one-line summary of a stats delta for the logger.
func formatStats(d Snapshot, interval time.Duration) string {
	return fmt.Sprintf("Out: %s | In: %s | Notes: %3d | Dup: %3d | Bad: %2d | SendErr: %2d",
		formatRate(d.Sent, interval),
		formatRate(d.Recv, interval),
		d.Accepted,
		d.Duplicate,
		d.Corrupt,
		d.SendFailures,
	)
}
