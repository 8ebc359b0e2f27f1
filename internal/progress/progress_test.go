package progress

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"sermonpipe/internal/config"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/services"
)

func TestReporterIsMonotonic(t *testing.T) {
	ch := NewMemory()
	r := NewReporter(ch, "s1", logging.NewNop())
	ctx := context.Background()

	for _, v := range []float64{0, 10.2, 9.9, 10.4, 50, 49, 50.4, 95} {
		r.Publish(ctx, v)
	}
	r.Complete(ctx)

	want := []int{0, 10, 50, 95, 100}
	if got := ch.History("s1"); !reflect.DeepEqual(got, want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	if r.Last() != 100 {
		t.Fatalf("expected last 100, got %d", r.Last())
	}
}

func TestReporterStageMapsIntoBand(t *testing.T) {
	ch := NewMemory()
	r := NewReporter(ch, "s1", logging.NewNop())
	ctx := context.Background()
	bands := Bands{DownloadEnd: 20, TranscodeEnd: 95}

	download := r.Stage(ctx, bands.Download())
	transcode := r.Stage(ctx, bands.Transcode())
	merge := r.Stage(ctx, bands.Merge())

	download(50)
	download(100)
	transcode(0)
	transcode(40)
	transcode(100)
	merge(50)
	merge(100)

	want := []int{10, 20, 50, 95, 98, 100}
	if got := ch.History("s1"); !reflect.DeepEqual(got, want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
}

func TestPipeModeBandsStartTranscodeAtZero(t *testing.T) {
	bands := Bands{TranscodeEnd: 95}
	if got := bands.Transcode().Map(40); got != 38 {
		t.Fatalf("expected 38, got %v", got)
	}
	if got := bands.Merge().Map(0); got != 95 {
		t.Fatalf("expected 95, got %v", got)
	}
	if got := bands.Transcode().Map(150); got != 95 {
		t.Fatalf("expected clamp to 95, got %v", got)
	}
}

func TestReporterClearRemovesValue(t *testing.T) {
	ch := NewMemory()
	r := NewReporter(ch, "s1", logging.NewNop())
	ctx := context.Background()
	r.Publish(ctx, 42)
	if v, ok, _ := ch.Get(ctx, "s1"); !ok || v != 42 {
		t.Fatalf("expected 42, got %d ok=%v", v, ok)
	}
	r.Clear(ctx)
	if _, ok, _ := ch.Get(ctx, "s1"); ok {
		t.Fatal("expected progress to be cleared")
	}
}

type failingChannel struct {
	MemoryChannel
	sets int
}

func (f *failingChannel) Set(context.Context, string, int) error {
	f.sets++
	return errors.New("connection refused")
}

func TestReporterSwallowsChannelErrors(t *testing.T) {
	ch := &failingChannel{}
	r := NewReporter(ch, "s1", logging.NewNop())
	r.Publish(context.Background(), 30)
	r.Publish(context.Background(), 60)
	if ch.sets != 2 {
		t.Fatalf("expected two attempts, got %d", ch.sets)
	}
	if r.Last() != 60 {
		t.Fatalf("expected last 60, got %d", r.Last())
	}
}

func TestNilChannelReporterDiscards(t *testing.T) {
	r := NewReporter(nil, "s1", nil)
	r.Publish(context.Background(), 30)
	r.Clear(context.Background())
	if r.Last() != 30 {
		t.Fatalf("expected last 30, got %d", r.Last())
	}
}

func TestOpenRedisRejectsBadURL(t *testing.T) {
	_, err := OpenRedis("http://not-redis", "addIntroOutro", time.Hour)
	if !errors.Is(err, services.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestRedisKeyUsesPrefix(t *testing.T) {
	ch, err := OpenRedis("redis://localhost:6379/0", "addIntroOutro/", time.Hour)
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	defer ch.Close()
	if got := ch.key("s1"); got != "addIntroOutro/s1" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Progress.Backend = config.ProgressMemory
	ch, err := Open(&cfg)
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	if _, ok := ch.(*MemoryChannel); !ok {
		t.Fatalf("expected memory channel, got %T", ch)
	}

	cfg.Progress.Backend = config.ProgressRedis
	cfg.Progress.RedisURL = "redis://127.0.0.1:6379/0"
	ch, err = Open(&cfg)
	if err != nil {
		t.Fatalf("Open(redis): %v", err)
	}
	if _, ok := ch.(*RedisChannel); !ok {
		t.Fatalf("expected redis channel, got %T", ch)
	}
	_ = ch.Close()

	cfg.Progress.Backend = "carrier-pigeon"
	if _, err := Open(&cfg); err == nil {
		t.Fatal("expected unsupported backend error")
	}
}
