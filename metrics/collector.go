// Package metrics exports evchan channel statistics to Prometheus.
package metrics

import (
	"slices"
	"strconv"
	"sync"

	"github.com/baxromumarov/evchan"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is anything that reports channel statistics: [evchan.Channel],
// [evchan.ReadHandle] and [evchan.ReadStream] all qualify.
type StatsSource interface {
	Stats() evchan.Stats
}

// liveSource is implemented by sources that can be released, such as
// [evchan.ReadHandle]. A released source is dropped from the collector.
type liveSource interface {
	LiveStats() (evchan.Stats, bool)
}

func statsOf(src StatsSource) (evchan.Stats, bool) {
	if ls, ok := src.(liveSource); ok {
		return ls.LiveStats()
	}
	return src.Stats(), true
}

// Collector is a [prometheus.Collector] that reports one set of series
// per registered channel. Values are read from the channels at scrape
// time, so nothing is recorded on the enqueue path.
type Collector struct {
	size     *prometheus.Desc
	capacity *prometheus.Desc
	enqueued *prometheus.Desc
	evicted  *prometheus.Desc

	mu      sync.RWMutex
	sources map[uint32]StatsSource
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector whose metric names start with namespace.
func NewCollector(namespace string) *Collector {
	labels := []string{"channel_id", "name"}
	return &Collector{
		size: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "channel", "size"),
			"Number of events currently queued in the channel.",
			labels, nil,
		),
		capacity: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "channel", "capacity"),
			"Configured capacity bound of the channel (0 when unbounded).",
			labels, nil,
		),
		enqueued: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "channel", "enqueued_total"),
			"Total events enqueued into the channel.",
			labels, nil,
		),
		evicted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "channel", "evicted_total"),
			"Total events dropped to honor the capacity bound.",
			labels, nil,
		),
		sources: make(map[uint32]StatsSource),
	}
}

// Add registers src. Its id is read once; registering another source with
// the same id replaces the first. An already released handle is ignored.
func (c *Collector) Add(src StatsSource) {
	st, ok := statsOf(src)
	if !ok {
		return
	}
	c.mu.Lock()
	c.sources[st.ID] = src
	c.mu.Unlock()
}

// Remove unregisters the source with the given channel id.
func (c *Collector) Remove(id uint32) {
	c.mu.Lock()
	delete(c.sources, id)
	c.mu.Unlock()
}

// Len returns the number of registered sources.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sources)
}

// Describe implements [prometheus.Collector].
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.capacity
	ch <- c.enqueued
	ch <- c.evicted
}

// Collect implements [prometheus.Collector].
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	sources := make([]StatsSource, 0, len(c.sources))
	for _, src := range c.sources {
		sources = append(sources, src)
	}
	c.mu.RUnlock()

	var dead []StatsSource
	for _, src := range sources {
		st, ok := statsOf(src)
		if !ok {
			dead = append(dead, src)
			continue
		}
		id := strconv.FormatUint(uint64(st.ID), 10)
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(st.Size), id, st.Name)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.Capacity), id, st.Name)
		ch <- prometheus.MustNewConstMetric(c.enqueued, prometheus.CounterValue, float64(st.Enqueued), id, st.Name)
		ch <- prometheus.MustNewConstMetric(c.evicted, prometheus.CounterValue, float64(st.Evicted), id, st.Name)
	}
	if len(dead) > 0 {
		c.prune(dead)
	}
}

// prune removes released sources, unless their id was re-registered.
func (c *Collector) prune(dead []StatsSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, src := range c.sources {
		if slices.Contains(dead, src) {
			delete(c.sources, id)
		}
	}
}
