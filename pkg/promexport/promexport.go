// Package promexport renders decoded statistics segment snapshots as
// Prometheus metrics, by walking a statseg.Dir and re-dumping it on every
// scrape. Unlike a collector built from a fixed struct's fields, the set of
// metric names here is entirely data-driven (the producer's own stat
// names), so this collector reports itself to the registry as "unchecked"
// (Describe sends nothing) rather than pre-declaring every *prometheus.Desc
// up front the way a fixed-schema collector would.
package promexport

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/simeonmiteff/statseg"
	"github.com/simeonmiteff/statseg/pkg/wire"
)

var nameSanitizer = regexp.MustCompile(`[^0-9a-zA-Z_]`)

// promName sanitizes a stat path into a valid Prometheus metric name
// fragment, replacing every character outside [0-9a-zA-Z_] with an
// underscore.
func promName(name string) string {
	return nameSanitizer.ReplaceAllString(name, "_")
}

// Collector is a prometheus.Collector backed by one statseg.Client. It
// keeps its own directory snapshot and refreshes it whenever a scrape
// observes it has gone stale, bounded by maxRefreshAttempts re-`Ls`s before
// giving up on that scrape.
type Collector struct {
	mu                sync.Mutex
	client            *statseg.Client
	patterns          []string
	dir               *statseg.Dir
	logger            func(error)
	maxRefreshAttempts int
}

// New constructs a Collector against client, matching patterns (empty means
// everything), performing the first directory walk immediately so Collect
// never has to synthesize an initial Dir.
func New(client *statseg.Client, patterns []string, logger func(error)) (*Collector, error) {
	if logger == nil {
		logger = func(error) {}
	}
	dir, err := client.Ls(patterns...)
	if err != nil {
		return nil, fmt.Errorf("promexport: initial directory walk failed: %w", err)
	}
	return &Collector{
		client:             client,
		patterns:           patterns,
		dir:                dir,
		logger:             logger,
		maxRefreshAttempts: 10,
	}, nil
}

// Describe intentionally sends nothing: the metric set is determined by
// the producer's own directory contents and can change between scrapes, so
// this collector is "unchecked" in Prometheus terms.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect dumps the tracked directory and renders every matched entry. If
// the dump reports the directory is obsolete (the producer rewrote its
// layout since the last Ls), Collect re-`Ls`es and retries, matching the
// bounded "refresh layout" retry loop producers expect long-lived readers
// to perform.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var snap *statseg.Snapshot
	for attempt := 0; attempt < c.maxRefreshAttempts; attempt++ {
		var err error
		snap, err = c.dir.Dump()
		if err == nil {
			break
		}
		if !errors.Is(err, statseg.ErrObsoleteDirData) {
			c.logger(fmt.Errorf("promexport: dump failed: %w", err))
			return
		}
		newDir, err := c.client.Ls(c.patterns...)
		if err != nil {
			c.logger(fmt.Errorf("promexport: refreshing directory failed: %w", err))
			return
		}
		c.dir = newDir
		snap = nil
	}
	if snap == nil {
		c.logger(errors.New("promexport: giving up after repeated obsolete-directory retries"))
		return
	}

	for _, entry := range snap.Entries {
		renderEntry(metrics, entry)
	}
}

func renderEntry(metrics chan<- prometheus.Metric, entry statseg.SnapshotEntry) {
	name := promName(entry.Name)

	switch entry.Value.Kind {
	case wire.KindScalarIndex:
		desc := prometheus.NewDesc(name, fmt.Sprintf("scalar value of %s", entry.Name), nil, nil)
		metrics <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, entry.Value.Scalar)

	case wire.KindCounterVectorSimple:
		desc := prometheus.NewDesc(name, fmt.Sprintf("counter vector %s", entry.Name), []string{"thread", "interface"}, nil)
		for thread, perInterface := range entry.Value.Simple {
			for iface, v := range perInterface {
				metrics <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v),
					fmt.Sprint(thread), fmt.Sprint(iface))
			}
		}

	case wire.KindCounterVectorCombined:
		packetsDesc := prometheus.NewDesc(name+"_packets", fmt.Sprintf("packet count of %s", entry.Name), []string{"thread", "interface"}, nil)
		bytesDesc := prometheus.NewDesc(name+"_bytes", fmt.Sprintf("byte count of %s", entry.Name), []string{"thread", "interface"}, nil)
		for thread, perInterface := range entry.Value.Combined {
			for iface, v := range perInterface {
				metrics <- prometheus.MustNewConstMetric(packetsDesc, prometheus.CounterValue, float64(v.Packets),
					fmt.Sprint(thread), fmt.Sprint(iface))
				metrics <- prometheus.MustNewConstMetric(bytesDesc, prometheus.CounterValue, float64(v.Bytes),
					fmt.Sprint(thread), fmt.Sprint(iface))
			}
		}

	case wire.KindNameVector:
		desc := prometheus.NewDesc(name+"_info", fmt.Sprintf("name table entry of %s", entry.Name), []string{"index", "name"}, nil)
		for idx, s := range entry.Value.Names {
			if s == "" {
				continue
			}
			metrics <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, 1, fmt.Sprint(idx), s)
		}

	case wire.KindEmpty:
		// Nothing to export.

	default:
		// ILLEGAL or any tag the decoder itself didn't already reject;
		// never reachable in practice since Dump would have failed first.
	}
}
