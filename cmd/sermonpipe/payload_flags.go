package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sermonpipe/internal/source"
)

// payloadFlags collects a job payload from flags or from a JSON file.
type payloadFlags struct {
	file           string
	startTime      float64
	duration       float64
	introURL       string
	outroURL       string
	storagePath    string
	youtubeURL     string
	deleteOriginal bool
	skipTranscode  bool
}

func (f *payloadFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.file, "file", "f", "", "Read the JSON payload from a file (- for stdin)")
	flags.Float64Var(&f.startTime, "start", 0, "Offset into the source, in seconds")
	flags.Float64Var(&f.duration, "duration", 0, "Length to keep, in seconds")
	flags.StringVar(&f.introURL, "intro", "", "URL of audio to prepend")
	flags.StringVar(&f.outroURL, "outro", "", "URL of audio to append")
	flags.StringVar(&f.storagePath, "storage-path", "", "Object key of the raw upload")
	flags.StringVar(&f.youtubeURL, "youtube-url", "", "Streaming URL of the source")
	flags.BoolVar(&f.deleteOriginal, "delete-original", false, "Delete the raw upload after success")
	flags.BoolVar(&f.skipTranscode, "skip-transcode", false, "Trim without re-encoding (storage sources only)")
}

// payload builds the payload for the sermon named by args. With --file the
// file wins and args may be empty.
func (f *payloadFlags) payload(cmd *cobra.Command, args []string) (source.Payload, error) {
	if f.file != "" {
		data, err := f.readFile(cmd.InOrStdin())
		if err != nil {
			return source.Payload{}, err
		}
		p, err := source.DecodePayload(data)
		if err != nil {
			return source.Payload{}, err
		}
		if len(args) == 1 && strings.TrimSpace(p.ID) == "" {
			p.ID = args[0]
		}
		return p, nil
	}
	if len(args) != 1 {
		return source.Payload{}, errors.New("a sermon id is required unless --file is given")
	}
	return source.Payload{
		ID:              args[0],
		StartTime:       f.startTime,
		Duration:        f.duration,
		IntroURL:        f.introURL,
		OutroURL:        f.outroURL,
		DeleteOriginal:  f.deleteOriginal,
		SkipTranscode:   f.skipTranscode,
		StorageFilePath: f.storagePath,
		YoutubeURL:      f.youtubeURL,
	}, nil
}

func (f *payloadFlags) readFile(stdin io.Reader) ([]byte, error) {
	if f.file == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(f.file)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}
