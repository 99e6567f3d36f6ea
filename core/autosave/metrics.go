package autosave

import "expvar"

// Counters published on /debug/vars under "autosave".
var (
	metrics = expvar.NewMap("autosave")

	metricSaved     = newCounter("saved")
	metricSkipped   = newCounter("skipped")
	metricFailed    = newCounter("failed")
	metricDiscarded = newCounter("discarded")
)

func newCounter(name string) *expvar.Int {
	v := new(expvar.Int)
	metrics.Set(name, v)
	return v
}

func countOutcome(o Outcome) {
	switch o {
	case OutcomeSaved:
		metricSaved.Add(1)
	case OutcomeSkipped:
		metricSkipped.Add(1)
	case OutcomeFailed:
		metricFailed.Add(1)
	case OutcomeDiscarded:
		metricDiscarded.Add(1)
	}
}
