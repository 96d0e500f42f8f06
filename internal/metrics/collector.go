package metrics

import "time"

// RingSource is the subset of the control plane a Collector polls. It is
// satisfied by *control.Controller without metrics importing control
// directly, avoiding a dependency cycle between the control plane and its
// own metrics collector.
type RingSource interface {
	EndpointCountsByStatus() map[string]int
	PendingRangeCounts() map[string]int
	ModeOrdinal() int
}

// Collector periodically samples a RingSource into the package's
// prometheus gauges, the way a dashboard scrape expects current values to
// already be set rather than computed on request.
type Collector struct {
	source RingSource
	stopCh chan struct{}
}

func NewCollector(source RingSource) *Collector {
	return &Collector{source: source, stopCh: make(chan struct{})}
}

func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

func (c *Collector) Stop() { close(c.stopCh) }

func (c *Collector) collect() {
	for status, count := range c.source.EndpointCountsByStatus() {
		EndpointsTotal.WithLabelValues(status).Set(float64(count))
	}
	for ks, count := range c.source.PendingRangeCounts() {
		PendingRangesTotal.WithLabelValues(ks).Set(float64(count))
	}
	StorageServiceMode.Set(float64(c.source.ModeOrdinal()))
}
