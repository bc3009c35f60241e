package domain

import "sync/atomic"

// Counters are the data-plane statistics. They are incremented on the hot
// paths and read by the metrics reporter.
type Counters struct {
	FramesReceived  atomic.Uint64
	FramesDelivered atomic.Uint64
	DropTooShort    atomic.Uint64
	DropDestMAC     atomic.Uint64
	DropStreamID    atomic.Uint64
	DropMalformed   atomic.Uint64
	DropNotAdmitted atomic.Uint64
	RingOverruns    atomic.Uint64
	RingUnderruns   atomic.Uint64
	FramesSent      atomic.Uint64
	TxHalts         atomic.Uint64
	SendErrors      atomic.Uint64
	LateCallbacks   atomic.Uint64
}

type CounterSnapshot struct {
	FramesReceived  uint64 `json:"frames_received"`
	FramesDelivered uint64 `json:"frames_delivered"`
	DropTooShort    uint64 `json:"drop_too_short"`
	DropDestMAC     uint64 `json:"drop_dest_mac"`
	DropStreamID    uint64 `json:"drop_stream_id"`
	DropMalformed   uint64 `json:"drop_malformed"`
	DropNotAdmitted uint64 `json:"drop_not_admitted"`
	RingOverruns    uint64 `json:"ring_overruns"`
	RingUnderruns   uint64 `json:"ring_underruns"`
	FramesSent      uint64 `json:"frames_sent"`
	TxHalts         uint64 `json:"tx_halts"`
	SendErrors      uint64 `json:"send_errors"`
	LateCallbacks   uint64 `json:"late_callbacks"`
}

func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		FramesReceived:  c.FramesReceived.Load(),
		FramesDelivered: c.FramesDelivered.Load(),
		DropTooShort:    c.DropTooShort.Load(),
		DropDestMAC:     c.DropDestMAC.Load(),
		DropStreamID:    c.DropStreamID.Load(),
		DropMalformed:   c.DropMalformed.Load(),
		DropNotAdmitted: c.DropNotAdmitted.Load(),
		RingOverruns:    c.RingOverruns.Load(),
		RingUnderruns:   c.RingUnderruns.Load(),
		FramesSent:      c.FramesSent.Load(),
		TxHalts:         c.TxHalts.Load(),
		SendErrors:      c.SendErrors.Load(),
		LateCallbacks:   c.LateCallbacks.Load(),
	}
}

// Sub returns s - prev field by field.
func (s CounterSnapshot) Sub(prev CounterSnapshot) CounterSnapshot {
	return CounterSnapshot{
		FramesReceived:  s.FramesReceived - prev.FramesReceived,
		FramesDelivered: s.FramesDelivered - prev.FramesDelivered,
		DropTooShort:    s.DropTooShort - prev.DropTooShort,
		DropDestMAC:     s.DropDestMAC - prev.DropDestMAC,
		DropStreamID:    s.DropStreamID - prev.DropStreamID,
		DropMalformed:   s.DropMalformed - prev.DropMalformed,
		DropNotAdmitted: s.DropNotAdmitted - prev.DropNotAdmitted,
		RingOverruns:    s.RingOverruns - prev.RingOverruns,
		RingUnderruns:   s.RingUnderruns - prev.RingUnderruns,
		FramesSent:      s.FramesSent - prev.FramesSent,
		TxHalts:         s.TxHalts - prev.TxHalts,
		SendErrors:      s.SendErrors - prev.SendErrors,
		LateCallbacks:   s.LateCallbacks - prev.LateCallbacks,
	}
}

// Drops is the total of all receive drop reasons.
func (s CounterSnapshot) Drops() uint64 {
	return s.DropTooShort + s.DropDestMAC + s.DropStreamID + s.DropMalformed + s.DropNotAdmitted
}

// Xruns is the total of overruns, underruns and late callbacks.
func (s CounterSnapshot) Xruns() uint64 {
	return s.RingOverruns + s.RingUnderruns + s.LateCallbacks
}
