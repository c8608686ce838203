package metrics

import "time"

// Window accumulates per-update throughput between two snapshots.
type Window struct {
	sequences int
	tokens    int
	prep      time.Duration
	update    time.Duration
	steps     int
}

// Record adds one minibatch update to the window. tokens counts the
// unmasked positions of the batch.
func (w *Window) Record(sequences, tokens int, prepTime, updateTime time.Duration) {
	w.sequences += sequences
	w.tokens += tokens
	w.prep += prepTime
	w.update += updateTime
	w.steps++
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Updates: w.steps}
	total := w.prep + w.update
	if total > 0 {
		snap.SequencesPerSec = float64(w.sequences) / total.Seconds()
		snap.TokensPerSec = float64(w.tokens) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgPrepMS = (w.prep.Seconds() * 1000) / float64(w.steps)
		snap.AvgUpdateMS = (w.update.Seconds() * 1000) / float64(w.steps)
	}

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Updates         int
	SequencesPerSec float64
	TokensPerSec    float64
	AvgPrepMS       float64
	AvgUpdateMS     float64
}
