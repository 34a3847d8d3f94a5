package metrics

import "time"

// ServerCounter reports the current count of known servers grouped by
// ServerStatus string ("online", "offline", "unknown").
type ServerCounter interface {
	CountServersByStatus() (map[string]int, error)
}

// PoolSizer reports the number of live pooled connections.
type PoolSizer interface {
	PoolSize() int
}

// Collector polls slow-changing state (server counts, SSH pool occupancy)
// on a fixed interval and republishes it as gauges, instead of updating
// those gauges inline on every mutation.
type Collector struct {
	servers ServerCounter
	pool    PoolSizer
	stopCh  chan struct{}
}

// NewCollector builds a Collector. pool may be nil before the SSH executor
// is constructed; the collector skips that gauge in that case.
func NewCollector(servers ServerCounter, pool PoolSizer) *Collector {
	return &Collector{
		servers: servers,
		pool:    pool,
		stopCh:  make(chan struct{}),
	}
}

// Start begins polling on a 15 second interval.
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

// Stop halts polling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectServerMetrics()
	c.collectPoolMetrics()
}

func (c *Collector) collectServerMetrics() {
	counts, err := c.servers.CountServersByStatus()
	if err != nil {
		return
	}
	for status, count := range counts {
		ServersTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectPoolMetrics() {
	if c.pool == nil {
		return
	}
	SSHPoolSize.Set(float64(c.pool.PoolSize()))
}
