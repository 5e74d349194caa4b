// Package metrics defines the recorder seam the guard reports through.
package metrics

import "time"

// Recorder receives payment-flow events and latencies.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
