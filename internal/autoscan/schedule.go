package autoscan

import (
	"math"

	"github.com/avistalabs/columbus/internal/storage"
)

// scheduledTimes computes the hours (24h clock) at which a product's scans
// should run today. Scans are spread evenly across the product's daily time
// window, and products are offset against each other so a fleet of products
// does not all fire in the same hour.
func scheduledTimes(cfg storage.ProductConfig, productIndex, totalProducts int) []int {
	start := cfg.TimeWindowStart
	end := cfg.TimeWindowEnd
	scans := cfg.ScansPerDay

	// Windows wrapping midnight are not supported.
	if end <= start || scans <= 0 {
		return nil
	}
	if totalProducts < 1 {
		totalProducts = 1
	}

	windowHours := end - start

	if scans == 1 {
		if totalProducts > 1 {
			offset := float64(windowHours) * float64(productIndex) / float64(totalProducts)
			return []int{start + int(math.Round(offset))}
		}
		return []int{start + windowHours/2}
	}

	interval := float64(windowHours) / float64(scans)
	productOffset := 0.0
	if totalProducts > 1 {
		productOffset = interval / float64(totalProducts) * float64(productIndex)
	}

	times := make([]int, 0, scans)
	for i := 0; i < scans; i++ {
		// Center each scan in its slice of the window.
		t := float64(start) + interval/2 + float64(i)*interval + productOffset
		hour := int(math.Round(t))
		switch {
		case hour >= start && hour < end:
			times = append(times, hour)
		case hour >= end:
			times = append(times, end-1)
		}
	}
	return times
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
