package bitbang

import "time"

// BusyWait spins until d has elapsed. Sub-microsecond half periods are below
// the scheduler's sleep granularity, so the driver never yields here.
func BusyWait(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

// NoDelay skips all waiting, for simulated pins.
func NoDelay(time.Duration) {}
