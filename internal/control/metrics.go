package control

import "github.com/cuemby/ringcoord/internal/gossip"

// EndpointCountsByStatus satisfies metrics.RingSource: it tallies every
// known endpoint's current STATUS value, including dead and leaving
// members, for the ringcoord_endpoints_total gauge.
func (c *Controller) EndpointCountsByStatus() map[string]int {
	out := map[string]int{}
	for _, ep := range c.gossiper.AllEndpoints() {
		es, ok := c.gossiper.EndpointStateOf(ep)
		if !ok {
			continue
		}
		status := es.Status()
		name, _ := gossip.ParseStatus(status)
		if name == "" {
			name = "UNKNOWN"
		}
		out[name]++
	}
	return out
}

// PendingRangeCounts satisfies metrics.RingSource.
func (c *Controller) PendingRangeCounts() map[string]int {
	return c.ring.Current().PendingRangeCounts()
}

// ModeOrdinal satisfies metrics.RingSource.
func (c *Controller) ModeOrdinal() int {
	return c.Mode().Ordinal()
}
