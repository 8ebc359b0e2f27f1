package ffmpeg

import "strings"

// fatalStderr lists conditions ffmpeg reports on stderr while still exiting
// zero, or before a less specific exit failure.
var fatalStderr = []string{
	"Output file is empty",
}

// transientStderr lists warnings that are expected for live or partial inputs.
var transientStderr = []string{
	"Estimating duration from bitrate",
	"Header missing",
	"overread",
	"Skipping 0 bytes of junk",
}

type stderrClassifier struct {
	firstFatal string
	lines      []string
}

// observe records line and reports whether it is worth logging.
func (c *stderrClassifier) observe(line string) bool {
	for _, pattern := range fatalStderr {
		if strings.Contains(line, pattern) {
			if c.firstFatal == "" {
				c.firstFatal = line
			}
			c.remember(line)
			return true
		}
	}
	for _, pattern := range transientStderr {
		if strings.Contains(line, pattern) {
			return false
		}
	}
	c.remember(line)
	return true
}

func (c *stderrClassifier) remember(line string) {
	c.lines = append(c.lines, line)
	if len(c.lines) > stderrTail {
		c.lines = c.lines[len(c.lines)-stderrTail:]
	}
}

func (c *stderrClassifier) fatal() string { return c.firstFatal }

func (c *stderrClassifier) tail() string {
	if len(c.lines) == 0 {
		return ""
	}
	last := c.lines
	if len(last) > 3 {
		last = last[len(last)-3:]
	}
	return strings.Join(last, " | ")
}
