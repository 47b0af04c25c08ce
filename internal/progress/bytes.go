package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
)

// FormatBytes formats b with binary (IEC) units: "1.5KiB", "256MiB".
func FormatBytes(b int64) string {
	return units.BytesSize(float64(b))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// ParseBytes parses a size such as "64MiB", "1.5 GB" or "4096". Binary units
// (KiB, MiB, ...) are powers of 1024, SI units (KB, MB, ...) powers of 1000.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	parse := units.FromHumanSize
	if strings.ContainsAny(s, "iI") {
		parse = units.RAMInBytes
	}
	n, err := parse(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return n, nil
}
