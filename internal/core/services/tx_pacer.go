package services

import (
	"time"

	"avbstream/pkg/mediaclock"
)

// TxPacer converts ticker wake-ups into the number of packet periods that
// elapsed, so a coarse ticker still yields the exact long-run packet rate.
// Periods follow the media clock's rational interval, never a rounded one.
type TxPacer struct {
	clock    mediaclock.Params
	maxBurst int
	start    time.Time
	done     uint64
}

func NewTxPacer(clock mediaclock.Params, maxBurst int, start time.Time) *TxPacer {
	if maxBurst <= 0 {
		maxBurst = 1
	}
	return &TxPacer{clock: clock, maxBurst: maxBurst, start: start}
}

// Due returns the number of periods to run at now and marks them done. A
// backlog larger than maxBurst is skipped rather than sent in one burst.
func (p *TxPacer) Due(now time.Time) int {
	total := p.clock.Edges(now.Sub(p.start))
	if total <= p.done {
		return 0
	}
	due := total - p.done
	p.done = total
	if due > uint64(p.maxBurst) {
		return p.maxBurst
	}
	return int(due)
}
