package metrics

import (
	"sync"
	"time"
)

// Timing tracks the latency milestones of one turn.
type Timing struct {
	collector *Collector
	now       func() time.Time

	mu         sync.Mutex
	start      time.Time
	firstToken time.Duration
	hasFirst   bool
	retrievals []time.Duration
	final      *TimingSummary
}

// TimingSummary is the finalized timing of a turn.
type TimingSummary struct {
	Total            time.Duration   `json:"total"`
	TimeToFirstToken time.Duration   `json:"time_to_first_token"`
	Generation       time.Duration   `json:"generation"`
	Retrievals       []time.Duration `json:"retrievals"`
	RetrievalTotal   time.Duration   `json:"retrieval_total"`
}

// StartTotal marks the start of the turn.
func (t *Timing) StartTotal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start = t.now()
}

// RecordRetrieval adds the duration of one retrieval run.
func (t *Timing) RecordRetrieval(d time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.retrievals = append(t.retrievals, d)
	t.mu.Unlock()

	if t.collector != nil {
		t.collector.retrievalTime.Observe(d.Seconds())
	}
}

// MarkFirstToken records the time to first token. Only the first call counts;
// it reports the latency and whether this call set it.
func (t *Timing) MarkFirstToken() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasFirst {
		return t.firstToken, false
	}
	t.hasFirst = true
	t.firstToken = t.now().Sub(t.start)
	return t.firstToken, true
}

// Finalize computes the summary once and observes the histograms.
func (t *Timing) Finalize() TimingSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.final != nil {
		return *t.final
	}

	s := TimingSummary{
		Total:      t.now().Sub(t.start),
		Retrievals: append([]time.Duration(nil), t.retrievals...),
	}
	if t.hasFirst {
		s.TimeToFirstToken = t.firstToken
		s.Generation = s.Total - t.firstToken
	}
	for _, d := range t.retrievals {
		s.RetrievalTotal += d
	}

	if t.collector != nil {
		t.collector.totalTime.Observe(s.Total.Seconds())
		if t.hasFirst {
			t.collector.firstToken.Observe(s.TimeToFirstToken.Seconds())
			t.collector.generationTime.Observe(s.Generation.Seconds())
		}
	}
	t.final = &s
	return s
}
