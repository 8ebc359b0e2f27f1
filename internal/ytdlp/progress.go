package ytdlp

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

var (
	percentPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)%`)
	speedPattern   = regexp.MustCompile(`\bat\s+([\d.]+\s*[KMGTP]?i?B)/s`)
)

// sample is one parsed "[download]" progress line.
type sample struct {
	percent     float64
	hasPercent  bool
	bytesPerSec uint64
	hasSpeed    bool
}

// parseProgressLine extracts percent and speed from a yt-dlp progress line
// such as "[download]  12.5% of ~ 50.00MiB at 1.20MiB/s ETA 00:30".
func parseProgressLine(line string) (sample, bool) {
	if !strings.Contains(line, "[download]") {
		return sample{}, false
	}
	var s sample
	if m := percentPattern.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 && v <= 100 {
			s.percent = v
			s.hasPercent = true
		}
	}
	if m := speedPattern.FindStringSubmatch(line); m != nil {
		if v, err := humanize.ParseBytes(strings.ReplaceAll(m[1], " ", "")); err == nil {
			s.bytesPerSec = v
			s.hasSpeed = true
		}
	}
	return s, s.hasPercent || s.hasSpeed
}

// slowGuard counts consecutive below-floor throughput samples.
type slowGuard struct {
	floor     uint64
	threshold int
	streak    int
}

// observe records one speed sample and reports whether the streak now
// exceeds the threshold.
func (g *slowGuard) observe(bytesPerSec uint64) bool {
	if g.threshold <= 0 {
		return false
	}
	if bytesPerSec < g.floor {
		g.streak++
	} else {
		g.streak = 0
	}
	return g.streak > g.threshold
}
