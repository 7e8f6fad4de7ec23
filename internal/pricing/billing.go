package pricing

import "time"

// ComputeBilling rounds the elapsed interval up to whole minutes and prices it.
// Any started minute is billed in full; a zero or negative interval bills nothing.
func ComputeBilling(start, end time.Time, ratePerMinuteMinor int64) (minutes int, amountMinor int64) {
	minutes = billableMinutes(end.Sub(start))
	return minutes, int64(minutes) * ratePerMinuteMinor
}

func billableMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	m := d / time.Minute
	if d%time.Minute != 0 {
		m++
	}
	return int(m)
}
