package shopload

import (
	"fmt"
	"net"
	"sync"
	"time"

	graphite "github.com/cyberdelia/go-metrics-graphite"
	"github.com/rcrowley/go-metrics"
)

const defaultFlushInterval = 1 * time.Second

var (
	graphiteOnce sync.Once
	graphiteErr  error
)

// StartGraphiteSender flushes the default go-metrics registry to graphite, only the first call starts the sender
func StartGraphiteSender(prefix string, flushInterval time.Duration, url string) error {
	graphiteOnce.Do(func() {
		log.Infof("[graphite] setup graphite client with url: %s", url)
		addr, err := net.ResolveTCPAddr("tcp", url)
		if err != nil {
			graphiteErr = fmt.Errorf("resolve graphite addr %s: %w", url, err)
			return
		}
		if flushInterval <= 0 {
			flushInterval = defaultFlushInterval
		}
		go graphite.Graphite(metrics.DefaultRegistry, flushInterval, prefix, addr)
	})
	return graphiteErr
}

// RegisterGauge registers gauge metric in the default registry, an already registered gauge is reused
func RegisterGauge(name string) metrics.Gauge {
	return metrics.GetOrRegisterGauge(name, metrics.DefaultRegistry)
}
