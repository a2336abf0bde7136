package cmd

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/radsat/adapter/redis"
	"github.com/justapithecus/radsat/adapter/webhook"
	"github.com/justapithecus/radsat/cli/config"
	"github.com/justapithecus/radsat/frame"
	"github.com/justapithecus/radsat/log"
	"github.com/justapithecus/radsat/metrics"
	"github.com/justapithecus/radsat/policy"
	"github.com/justapithecus/radsat/runtime"
	"github.com/justapithecus/radsat/transceiver"
	"github.com/justapithecus/radsat/types"
)

// loadWith runs loadRunConfig against the run command's flags.
func loadWith(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	var (
		cfg     *config.Config
		loadErr error
	)
	cmd := RunCommand()
	cmd.Action = func(c *cli.Context) error {
		cfg, loadErr = loadRunConfig(c)
		return nil
	}
	app, _ := newTestApp(cmd)
	if err := app.Run(append([]string{"radsat", "run"}, args...)); err != nil {
		t.Fatalf("app.Run failed: %v", err)
	}
	return cfg, loadErr
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "radsat.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoadRunConfig_Defaults(t *testing.T) {
	cfg, err := loadWith(t)
	if err != nil {
		t.Fatalf("loadRunConfig failed: %v", err)
	}
	if cfg.Transceiver.Type != "tcp" || cfg.Journal.Backend != "none" {
		t.Errorf("defaults = %+v / %+v", cfg.Transceiver, cfg.Journal)
	}
}

func TestLoadRunConfig_FileAndOverrides(t *testing.T) {
	path := writeConfig(t, `
node:
  name: cubesat-a
  mission: demo
transceiver:
  type: memory
journal:
  backend: fs
  path: /var/radsat/journal
log:
  level: debug
`)

	tests := []struct {
		name     string
		args     []string
		node     string
		link     string
		jnlPath  string
		logLevel string
	}{
		{"config wins over defaults", []string{"--config", path}, "cubesat-a", "memory", "/var/radsat/journal", "debug"},
		{"flags win over config", []string{"-c", path, "--node", "cubesat-b", "--transceiver", "tcp", "--journal-path", "/tmp/j", "--log-level", "warn"}, "cubesat-b", "tcp", "/tmp/j", "warn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadWith(t, tt.args...)
			if err != nil {
				t.Fatalf("loadRunConfig failed: %v", err)
			}
			if cfg.Node.Name != tt.node || cfg.Transceiver.Type != tt.link || cfg.Journal.Path != tt.jnlPath || cfg.Log.Level != tt.logLevel {
				t.Errorf("config = node %q link %q journal %q log %q", cfg.Node.Name, cfg.Transceiver.Type, cfg.Journal.Path, cfg.Log.Level)
			}
			if cfg.Node.Mission != "demo" {
				t.Errorf("Mission = %q, want demo", cfg.Node.Mission)
			}
		})
	}
}

func TestLoadRunConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantMsg string
	}{
		{"unknown link", []string{"--transceiver", "laser"}, "transceiver.type"},
		{"serial without port", []string{"--transceiver", "serial"}, "transceiver.port"},
		{"fs journal without path", []string{"--journal-backend", "fs"}, "journal.path"},
		{"missing file", []string{"--config", "/nonexistent/radsat.yaml"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadWith(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestRunAction_InvalidConfigExitCode(t *testing.T) {
	app, _ := newTestApp(RunCommand())
	err := app.Run([]string{"radsat", "run", "--transceiver", "laser"})
	if exitCode(t, err) != exitConfigError {
		t.Errorf("exit code = %d, want %d", exitCode(t, err), exitConfigError)
	}
}

func TestRunAction_MemoryLinkUntilDuration(t *testing.T) {
	dir := t.TempDir()
	app, out := newTestApp(RunCommand())
	err := app.Run([]string{"radsat", "run",
		"--transceiver", "memory",
		"--journal-backend", "fs",
		"--journal-path", dir,
		"--log-level", "error",
		"--duration", "100ms",
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, section := range []string{"=== Passes ===", "=== Link ===", "=== Journal ==="} {
		if !strings.Contains(out.String(), section) {
			t.Errorf("summary missing %q:\n%s", section, out.String())
		}
	}
}

func TestRunAction_Quiet(t *testing.T) {
	app, out := newTestApp(RunCommand())
	err := app.Run([]string{"radsat", "run", "--transceiver", "memory", "--log-level", "error", "--duration", "20ms", "--quiet"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("--quiet printed %q", out.String())
	}
}

func TestPrintRunSummary_RejectedUplink(t *testing.T) {
	c := metrics.NewCollector("sat-1", "memory", "none")
	c.IncUnwrapError("bad_crc")
	c.IncUnwrapError("bad_crc")
	c.IncUnwrapError("cipher")

	var buf bytes.Buffer
	printRunSummary(&buf, "sat-1", c.Snapshot(), time.Second)
	out := buf.String()
	for _, want := range []string{"node=sat-1", "=== Rejected Uplink ===", "bad_crc", "cipher"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "bad_crc") > strings.Index(out, "cipher") {
		t.Error("unwrap kinds should be sorted")
	}
}

func TestBuildLink(t *testing.T) {
	link, err := buildLink(config.TransceiverConfig{Type: "memory", RxSlots: 4, TxSlots: 4}, log.NewNop())
	if err != nil {
		t.Fatalf("buildLink(memory) failed: %v", err)
	}
	if _, ok := link.(*transceiver.Memory); !ok {
		t.Errorf("buildLink(memory) = %T", link)
	}

	link, err = buildLink(config.TransceiverConfig{Type: "tcp", Addr: "127.0.0.1:0"}, log.NewNop())
	if err != nil {
		t.Fatalf("buildLink(tcp) failed: %v", err)
	}
	srv, ok := link.(*transceiver.Server)
	if !ok {
		t.Fatalf("buildLink(tcp) = %T", link)
	}
	_ = srv.Close()

	if link, err := buildLink(config.TransceiverConfig{Type: "laser"}, log.NewNop()); err == nil || link != nil {
		t.Errorf("buildLink(laser) = %v, %v; want nil link and error", link, err)
	}
}

type nopSink struct{}

func (nopSink) WriteRecords(context.Context, []types.Record) error { return nil }
func (nopSink) Close() error { return nil }

func TestBuildPolicy(t *testing.T) {
	base := config.Default().Journal

	base.Policy = "strict"
	p, err := buildPolicy(base, nopSink{}, log.NewNop())
	if err != nil {
		t.Fatalf("buildPolicy(strict) failed: %v", err)
	}
	if _, ok := p.(*policy.StrictPolicy); !ok {
		t.Errorf("buildPolicy(strict) = %T", p)
	}

	base.Policy = "buffered"
	p, err = buildPolicy(base, nopSink{}, log.NewNop())
	if err != nil {
		t.Fatalf("buildPolicy(buffered) failed: %v", err)
	}
	if _, ok := p.(*policy.BufferedPolicy); !ok {
		t.Errorf("buildPolicy(buffered) = %T", p)
	}

	base.BufferRecords, base.BufferBytes = 0, 0
	if p, err := buildPolicy(base, nopSink{}, log.NewNop()); err == nil || p != nil {
		t.Errorf("buildPolicy(buffered, no limits) = %v, %v; want nil policy and error", p, err)
	}

	base.Policy = "lossy"
	if _, err := buildPolicy(base, nopSink{}, log.NewNop()); err == nil {
		t.Error("buildPolicy(lossy) should fail")
	}
}

func TestBuildJournal(t *testing.T) {
	cfg := config.Default().Journal

	j, err := buildJournal(t.Context(), cfg, "sat-1", log.NewNop(), nil)
	if err != nil {
		t.Fatalf("buildJournal(none) failed: %v", err)
	}
	if err := j.RecordPass(t.Context(), types.PassRecord{PassID: "p1", Reason: "timeout"}); err != nil {
		t.Fatalf("RecordPass failed: %v", err)
	}
	if got := j.Stats().TotalRecords; got != 1 {
		t.Errorf("TotalRecords = %d, want 1", got)
	}
	_ = j.Close()

	cfg.Backend, cfg.Path = "fs", t.TempDir()
	j, err = buildJournal(t.Context(), cfg, "sat-1", log.NewNop(), nil)
	if err != nil {
		t.Fatalf("buildJournal(fs) failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	cfg.Backend = "tape"
	if _, err := buildJournal(t.Context(), cfg, "sat-1", log.NewNop(), nil); err == nil {
		t.Error("buildJournal(tape) should fail")
	}
}

func TestBuildAdapter(t *testing.T) {
	a, err := buildAdapter(config.AdapterConfig{})
	if err != nil || a != nil {
		t.Fatalf("buildAdapter(none) = %v, %v; want nil, nil", a, err)
	}

	a, err = buildAdapter(config.AdapterConfig{Type: "webhook", URL: "http://localhost:9/hook"})
	if err != nil {
		t.Fatalf("buildAdapter(webhook) failed: %v", err)
	}
	if _, ok := a.(*webhook.Adapter); !ok {
		t.Errorf("buildAdapter(webhook) = %T", a)
	}
	_ = a.Close()

	retries := 0
	a, err = buildAdapter(config.AdapterConfig{Type: "redis", URL: "redis://localhost:6379/0", Retries: &retries})
	if err != nil {
		t.Fatalf("buildAdapter(redis) failed: %v", err)
	}
	if _, ok := a.(*redis.Adapter); !ok {
		t.Errorf("buildAdapter(redis) = %T", a)
	}
	_ = a.Close()

	if a, err := buildAdapter(config.AdapterConfig{Type: "webhook"}); err == nil || a != nil {
		t.Errorf("buildAdapter(webhook without URL) = %v, %v; want nil adapter and error", a, err)
	}
}

func TestResolveKey(t *testing.T) {
	framPath := filepath.Join(t.TempDir(), "fram.img")
	store, img, err := openKeystore(framPath, 0)
	if err != nil {
		t.Fatalf("openKeystore failed: %v", err)
	}
	if err := store.Provision([]byte("fedcba9876543210")); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if err := img.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	tests := []struct {
		name              string
		key, keyHex, fram string
		want              string
	}{
		{"raw", "0123456789abcdef", "", framPath, "0123456789abcdef"},
		{"hex", "", "6b6579", "", "key"},
		{"fram", "", "", framPath, "fedcba9876543210"},
		{"none", "", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ks, err := resolveKey(tt.key, tt.keyHex, tt.fram)
			if err != nil {
				t.Fatalf("resolveKey failed: %v", err)
			}
			got, err := ks.Key()
			if err != nil {
				t.Fatalf("Key failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("key = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := resolveKey("", "not-hex", ""); err == nil {
		t.Error("resolveKey with invalid hex should fail")
	}
}

func TestBuildKeySource_ProvisionsAndVerifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fram.img")
	ks, closer, err := buildKeySource(config.KeystoreConfig{FRAMPath: path, Key: "0123456789abcdef"})
	if err != nil {
		t.Fatalf("buildKeySource failed: %v", err)
	}
	defer closer.Close()
	key, err := ks.Key()
	if err != nil || string(key) != "0123456789abcdef" {
		t.Errorf("Key = %q, %v", key, err)
	}

	ks, closer, err = buildKeySource(config.KeystoreConfig{})
	if err != nil || closer != nil {
		t.Fatalf("buildKeySource without image = %v, %v", closer, err)
	}
	if key, _ := ks.Key(); len(key) != 0 {
		t.Errorf("unkeyed source returned %q", key)
	}
}

// startStack runs a stack over one end of a pipe and returns the other end
// for the ground station.
func startStack(t *testing.T, telemetry int) transceiver.Transceiver {
	t.Helper()
	a, b := net.Pipe()
	sat := transceiver.NewStream(a, transceiver.StreamConfig{}, nil)
	gnd := transceiver.NewStream(b, transceiver.StreamConfig{}, nil)

	stack, err := runtime.NewStack(runtime.Config{
		Node:              "sat-1",
		Link:              sat,
		Codec:             frame.NewCodec(),
		QueueCapacity:     16,
		RxInterval:        time.Millisecond,
		TxShortSleep:      time.Millisecond,
		TelemetryInterval: -1,
	})
	if err != nil {
		t.Fatalf("NewStack failed: %v", err)
	}
	for i := range telemetry {
		if err := stack.Queue().Add(types.ObcTelemetry{Uptime: uint32(i + 1)}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stack.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = gnd.Close()
	})
	return gnd
}

func newGround(link transceiver.Transceiver, script groundScript) *groundSession {
	script.Idle = 300 * time.Millisecond
	script.Poll = 2 * time.Millisecond
	return &groundSession{
		link:     link,
		uplink:   frame.NewCodec(),
		downlink: frame.NewCodec(),
		script:   script,
		logger:   log.NewNop().Sugar(),
	}
}

func TestGroundSession_Pass(t *testing.T) {
	link := startStack(t, 3)
	g := newGround(link, groundScript{PassLength: 60, Cease: true, CeaseDuration: 10})

	rep, err := g.run(t.Context())
	if err != nil {
		t.Fatalf("ground pass failed: %v", err)
	}
	if !rep.PassAcked || !rep.Ceased {
		t.Errorf("report = %+v", rep)
	}
	if len(rep.Frames) != 3 || rep.Acked != 3 || rep.Nacked != 0 || rep.Rejected != 0 {
		t.Fatalf("frames=%d acked=%d nacked=%d rejected=%d, want 3/3/0/0",
			len(rep.Frames), rep.Acked, rep.Nacked, rep.Rejected)
	}
	for i, v := range rep.Frames {
		if v.Kind != "obc_telemetry" {
			t.Errorf("frame %d kind = %q, want obc_telemetry", i, v.Kind)
		}
	}
}

func TestGroundSession_NackResends(t *testing.T) {
	link := startStack(t, 2)
	g := newGround(link, groundScript{PassLength: 60, NackEvery: 2})

	rep, err := g.run(t.Context())
	if err != nil {
		t.Fatalf("ground pass failed: %v", err)
	}
	// The second frame is nacked and resent; the resend is acked.
	if len(rep.Frames) != 3 || rep.Nacked != 1 || rep.Acked != 2 {
		t.Fatalf("frames=%d acked=%d nacked=%d, want 3/2/1", len(rep.Frames), rep.Acked, rep.Nacked)
	}
	if rep.Frames[1].Hex != rep.Frames[2].Hex {
		t.Error("nacked frame was not resent unchanged")
	}
}

func TestGroundSession_MaxFrames(t *testing.T) {
	link := startStack(t, 5)
	g := newGround(link, groundScript{PassLength: 60, MaxFrames: 2})

	rep, err := g.run(t.Context())
	if err != nil {
		t.Fatalf("ground pass failed: %v", err)
	}
	if len(rep.Frames) != 2 {
		t.Errorf("got %d frames, want 2", len(rep.Frames))
	}
}

func TestGroundSession_NoAck(t *testing.T) {
	a, b := net.Pipe()
	gnd := transceiver.NewStream(a, transceiver.StreamConfig{}, nil)
	silent := transceiver.NewStream(b, transceiver.StreamConfig{}, nil)
	t.Cleanup(func() {
		_ = gnd.Close()
		_ = silent.Close()
	})

	g := newGround(gnd, groundScript{PassLength: 60})
	g.script.Idle = 50 * time.Millisecond
	rep, err := g.run(t.Context())
	if err == nil {
		t.Fatal("expected error when the stack never acks")
	}
	if rep.PassAcked {
		t.Error("PassAcked set without an ack")
	}
}

func TestGroundCommand_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	app, _ := newTestApp(GroundCommand())
	err = app.Run([]string{"radsat", "ground", "--addr", addr, "--timeout", "2s", "--log-level", "error"})
	if exitCode(t, err) != exitRuntimeError {
		t.Errorf("exit code = %d, want %d (err %v)", exitCode(t, err), exitRuntimeError, err)
	}
}
