package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sermonpipe/internal/api"
	"sermonpipe/internal/daemonctl"
	"sermonpipe/internal/testsupport"
)

func TestOfflineSubmitListAndAbort(t *testing.T) {
	env := setupCLITestEnv(t)
	env.putRaw(t, "raw/s1.mp3")

	out, _, err := runCLI(t, env.configPath, "sermon", "put", "s1", "--title", "Sunday Service")
	if err != nil {
		t.Fatalf("sermon put: %v", err)
	}
	requireContains(t, out, `Saved sermon s1 ("Sunday Service")`)

	out, _, err = runCLI(t, env.configPath, "submit", "s1", "--storage-path", "raw/s1.mp3", "--duration", "600")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireContains(t, out, "Queued s1 as task 1 (Pending)")
	requireContains(t, out, "Daemon is not running")

	out, _, err = runCLI(t, env.configPath, "tasks", "list")
	if err != nil {
		t.Fatalf("tasks list: %v", err)
	}
	requireContains(t, out, "s1")
	requireContains(t, out, "Pending")
	requireContains(t, out, "1 tasks")

	out, _, err = runCLI(t, env.configPath, "job", "s1")
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	requireContains(t, out, "Sunday Service")
	requireContains(t, out, "Queued")

	out, _, err = runCLI(t, env.configPath, "abort", "s1")
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	requireContains(t, out, "Abort requested for s1 (was pending)")

	out, _, err = runCLI(t, env.configPath, "tasks", "stats")
	if err != nil {
		t.Fatalf("tasks stats: %v", err)
	}
	requireContains(t, out, "Cancelled")
}

func TestSubmitRejectsMissingSource(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, env.configPath, "submit", "s2", "--storage-path", "raw/missing.mp3", "--duration", "60")
	if err == nil || !strings.Contains(err.Error(), "could not be found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestSubmitReadsPayloadFile(t *testing.T) {
	env := setupCLITestEnv(t)
	env.putRaw(t, "raw/s3.mp3")
	payload := filepath.Join(env.baseDir, "payload.json")
	if err := os.WriteFile(payload, []byte(`{"id":"s3","duration":120,"storageFilePath":"raw/s3.mp3"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err := runCLI(t, env.configPath, "submit", "--file", payload, "--json")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var task api.Task
	if err := json.Unmarshal([]byte(out), &task); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if task.JobID != "s3" || task.Payload.Duration != 120 {
		t.Fatalf("unexpected task %#v", task)
	}
}

func TestTasksListRejectsUnknownStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, env.configPath, "tasks", "list", "--status", "pending,bogus")
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected unknown status error, got %v", err)
	}
}

func TestTasksRetryRejectsBadIDs(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, env.configPath, "tasks", "retry", "abc"); err == nil {
		t.Fatal("expected error for non-numeric id")
	}
	out, _, err := runCLI(t, env.configPath, "tasks", "retry")
	if err != nil {
		t.Fatalf("retry all: %v", err)
	}
	requireContains(t, out, "0 failed tasks returned to the queue")
}

func TestDaemonBackedCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	env.startDaemon(t)
	env.putRaw(t, "raw/s1.mp3")

	out, _, err := runCLI(t, env.configPath, "submit", "s1", "--storage-path", "raw/s1.mp3", "--duration", "60")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if strings.Contains(out, "Daemon is not running") {
		t.Fatalf("submit should go through the daemon: %s", out)
	}

	waitFor(t, 5*time.Second, func() bool {
		out, _, err := runCLI(t, env.configPath, "job", "s1", "--json")
		if err != nil {
			return false
		}
		var job api.Job
		return json.Unmarshal([]byte(out), &job) == nil && job.Task != nil && job.Task.Status == "completed"
	})

	out, _, err = runCLI(t, env.configPath, "status", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var snap daemonctl.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !snap.Running || snap.Workflow.QueueStats["completed"] != 1 {
		t.Fatalf("unexpected status %#v", snap)
	}

	out, _, err = runCLI(t, env.configPath, "abort", "s1")
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	requireContains(t, out, "already finished")

	out, _, err = runCLI(t, env.configPath, "tasks", "prune", "--older-than", "0s")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	requireContains(t, out, "Removed 1 finished tasks")
}

func TestStatusOffline(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, env.configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== System Status ==")
	requireContains(t, out, "Not running")
	requireContains(t, out, "== Dependencies ==")
	requireContains(t, out, "3/3 available")
}

func TestStopWhenDaemonNotRunning(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, env.configPath, "stop")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}

func TestDepsReportsEachCheck(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteStub(t, filepath.Dir(env.cfg.Binaries.FFmpeg), "ffmpeg",
		"echo ' A....D libmp3lame           libmp3lame MP3 (MPEG audio layer 3)'\n")
	out, _, err := runCLI(t, env.configPath, "deps", "--backends")
	if err != nil {
		t.Fatalf("deps: %v\n%s", err, out)
	}
	requireContains(t, out, "FFmpeg")
	requireContains(t, out, "yt-dlp")
	requireContains(t, out, "OK")

	env.cfg.Binaries.YTDLP = filepath.Join(env.baseDir, "missing-yt-dlp")
	writeTestConfig(t, env.configPath, env.cfg)
	out, _, err = runCLI(t, env.configPath, "deps")
	if err == nil {
		t.Fatal("expected failure when yt-dlp is missing")
	}
	requireContains(t, out, "FAIL")
}

func TestConfigInitAndShow(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(env.baseDir, "fresh", "sermonpipe.toml")
	out, _, err := runCLI(t, env.configPath, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, _, err := runCLI(t, env.configPath, "config", "init", "--path", target); err == nil {
		t.Fatal("expected refusal to overwrite")
	}

	env.cfg.Paths.APIToken = "secret-token"
	writeTestConfig(t, env.configPath, env.cfg)
	out, _, err = runCLI(t, env.configPath, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "secret-token") {
		t.Fatalf("token leaked: %s", out)
	}
	requireContains(t, out, "********")
}
