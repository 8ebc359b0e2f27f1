package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// MP3Encoder is the ffmpeg encoder the transcode stage requires.
const MP3Encoder = "libmp3lame"

const encoderProbeTimeout = 10 * time.Second

// CheckFFmpegEncoder reports whether binary was built with encoder.
func CheckFFmpegEncoder(ctx context.Context, binary, encoder string) Status {
	result := Status{
		Name:        "FFmpeg " + encoder,
		Command:     binary,
		Description: "Required MP3 encoder",
	}
	if strings.TrimSpace(binary) == "" {
		result.Detail = "command not configured"
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, encoderProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, binary, "-hide_banner", "-encoders").Output()
	if err != nil {
		result.Detail = fmt.Sprintf("list encoders: %v", err)
		return result
	}
	if !hasEncoder(out, encoder) {
		result.Detail = fmt.Sprintf("ffmpeg lacks the %s encoder", encoder)
		return result
	}
	result.Available = true
	return result
}

// hasEncoder scans `ffmpeg -encoders` output, whose rows look like
// " A....D libmp3lame           libmp3lame MP3 (MPEG audio layer 3)".
func hasEncoder(listing []byte, encoder string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(listing))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == encoder {
			return true
		}
	}
	return false
}
