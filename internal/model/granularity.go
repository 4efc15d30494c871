package model

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Granularity represents a data cadence specification such as "1m", "5m",
// "1h" or "1d".
type Granularity struct {
	Multiplier int
	Unit       byte // 's', 'm', 'h', 'd'
}

var granularityPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseGranularity parses strings like "30s", "1m", "4h", "1d".
func ParseGranularity(s string) (Granularity, error) {
	m := granularityPattern.FindStringSubmatch(s)
	if m == nil {
		return Granularity{}, fmt.Errorf("invalid granularity %q (expected e.g. 1m, 5m, 1h, 1d)", s)
	}

	mult, err := strconv.Atoi(m[1])
	if err != nil || mult <= 0 {
		return Granularity{}, fmt.Errorf("invalid granularity multiplier %q", m[1])
	}

	return Granularity{Multiplier: mult, Unit: m[2][0]}, nil
}

func (g Granularity) String() string {
	return fmt.Sprintf("%d%c", g.Multiplier, g.Unit)
}

// Seconds converts the granularity to a total number of seconds.
func (g Granularity) Seconds() int {
	switch g.Unit {
	case 's':
		return g.Multiplier
	case 'm':
		return g.Multiplier * 60
	case 'h':
		return g.Multiplier * 3600
	case 'd':
		return g.Multiplier * 86400
	}
	return 0
}

// Duration returns the granularity as a time.Duration.
func (g Granularity) Duration() time.Duration {
	return time.Duration(g.Seconds()) * time.Second
}
