package metrics

import "time"

// Noop discards all events. The guard defaults to it.
type Noop struct{}

func (Noop) IncCounter(string, map[string]string)                 {}
func (Noop) ObserveLatency(string, time.Duration, map[string]string) {}
