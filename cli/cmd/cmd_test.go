package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/radsat/cli/reader"
	"github.com/justapithecus/radsat/journal"
	"github.com/justapithecus/radsat/keystore"
	"github.com/justapithecus/radsat/policy"
	"github.com/justapithecus/radsat/types"
)

// newTestApp builds an app around cmds that writes to a buffer and never
// calls os.Exit.
func newTestApp(cmds ...*cli.Command) (*cli.App, *bytes.Buffer) {
	app := cli.NewApp()
	app.Name = "radsat"
	app.Commands = cmds
	out := &bytes.Buffer{}
	app.Writer = out
	app.ErrWriter = io.Discard
	app.Reader = strings.NewReader("")
	app.ExitErrHandler = func(*cli.Context, error) {} // suppress os.Exit
	return app, out
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return exitSuccess
	}
	var ec cli.ExitCoder
	if !errors.As(err, &ec) {
		t.Fatalf("error %v is not an exit coder", err)
	}
	return ec.ExitCode()
}

func decodeJSON(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("invalid JSON output %q: %v", data, err)
	}
}

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	hasTUI := false
	for _, f := range ReadOnlyFlags() {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}
	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func TestIsStderrTTY(_ *testing.T) {
	// Actual TTY behavior depends on runtime environment.
	_ = isStderrTTY()
}

func TestExitCodeConstants(t *testing.T) {
	if exitSuccess != 0 || exitConfigError != 1 || exitRuntimeError != 2 {
		t.Errorf("exit codes = %d/%d/%d, want 0/1/2", exitSuccess, exitConfigError, exitRuntimeError)
	}
}

func TestVersionCommand(t *testing.T) {
	app, out := newTestApp(VersionCommand(types.Version, "abc123"))
	if err := app.Run([]string{"radsat", "version", "--format", "json"}); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	var resp VersionResponse
	decodeJSON(t, out.Bytes(), &resp)
	if resp.Version != types.Version || resp.Commit != "abc123" {
		t.Errorf("version = %+v", resp)
	}
}

func TestVersionCommand_TUIUnsupported(t *testing.T) {
	app, _ := newTestApp(VersionCommand(types.Version, ""))
	err := app.Run([]string{"radsat", "version", "--tui"})
	if exitCode(t, err) != exitConfigError {
		t.Errorf("exit code = %d, want %d", exitCode(t, err), exitConfigError)
	}
}

func TestFrameEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		kind string
		body string
		key  []string
	}{
		{name: "telecommand", kind: "begin_pass", body: "pass_length: 120"},
		{name: "protocol", kind: "ack"},
		{name: "sealed", kind: "update_time", body: "unix_time: 1700000000", key: []string{"--key", "0123456789abcdef", "--seal"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, out := newTestApp(FrameCommand())
			args := []string{"radsat", "frame", "encode", "--format", "json", "--body", tt.body}
			args = append(append(args, tt.key...), tt.kind)
			if err := app.Run(args); err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			var enc EncodeResponse
			decodeJSON(t, out.Bytes(), &enc)
			if enc.Kind != tt.kind || enc.Size != len(enc.Hex)/2 {
				t.Fatalf("encode = %+v", enc)
			}

			app, out = newTestApp(FrameCommand())
			args = []string{"radsat", "frame", "decode", "--format", "json"}
			if len(tt.key) > 0 {
				args = append(args, tt.key[:2]...)
			}
			if err := app.Run(append(args, enc.Hex)); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			var view reader.FrameView
			decodeJSON(t, out.Bytes(), &view)
			if !view.OK() || view.Kind != tt.kind || !view.CRCValid {
				t.Errorf("decode = %+v", view)
			}
		})
	}
}

func TestFrameDecode_Stdin(t *testing.T) {
	app, out := newTestApp(FrameCommand())
	if err := app.Run([]string{"radsat", "frame", "encode", "--format", "json", "ack"}); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var enc EncodeResponse
	decodeJSON(t, out.Bytes(), &enc)

	app, out = newTestApp(FrameCommand())
	app.Reader = strings.NewReader(enc.Hex + "\n")
	if err := app.Run([]string{"radsat", "frame", "decode", "--format", "json", "-"}); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	var view reader.FrameView
	decodeJSON(t, out.Bytes(), &view)
	if view.Kind != "ack" {
		t.Errorf("Kind = %q, want ack", view.Kind)
	}
}

func TestFrameDecode_Invalid(t *testing.T) {
	app, out := newTestApp(FrameCommand())
	err := app.Run([]string{"radsat", "frame", "decode", "--format", "json", "0000"})
	if exitCode(t, err) != exitRuntimeError {
		t.Fatalf("exit code = %d, want %d", exitCode(t, err), exitRuntimeError)
	}
	var view reader.FrameView
	decodeJSON(t, out.Bytes(), &view)
	if view.OK() || view.ErrorKind == "" {
		t.Errorf("decode of garbage = %+v, want an error kind", view)
	}
}

func TestFrameEncode_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no kind", []string{}},
		{"unknown kind", []string{"warp_drive"}},
		{"bad body", []string{"--body", "nope: 1", "begin_pass"}},
		{"bad key hex", []string{"--key-hex", "zz", "ack"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(FrameCommand())
			err := app.Run(append([]string{"radsat", "frame", "encode"}, tt.args...))
			if exitCode(t, err) != exitConfigError {
				t.Errorf("exit code = %d, want %d (err %v)", exitCode(t, err), exitConfigError, err)
			}
		})
	}
}

func TestFrameKinds(t *testing.T) {
	app, out := newTestApp(FrameCommand())
	if err := app.Run([]string{"radsat", "frame", "kinds", "--format", "json"}); err != nil {
		t.Fatalf("kinds failed: %v", err)
	}
	var kinds []string
	decodeJSON(t, out.Bytes(), &kinds)
	if len(kinds) != len(reader.Kinds()) {
		t.Errorf("got %d kinds, want %d", len(kinds), len(reader.Kinds()))
	}
}

var statsPassStart = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

// writeJournal journals one pass per reason into an fs journal under dir.
func writeJournal(t *testing.T, dir string, reasons ...string) {
	t.Helper()
	ds, err := journal.OpenFS(dir)
	if err != nil {
		t.Fatalf("OpenFS failed: %v", err)
	}
	j := journal.New(policy.NewStrictPolicy(journal.NewSink(ds, "sat-1", nil)), "sat-1", nil)
	ctx := t.Context()
	for i, reason := range reasons {
		start := statsPassStart.Add(time.Duration(i) * time.Hour)
		passID := start.Format("20060102T150405")
		j.RecordFrame(ctx, passID, types.DirectionUplink, start, []byte{0x18, 0x20, 0x01}, "begin_pass", nil)
		j.RecordFrame(ctx, passID, types.DirectionDownlink, start.Add(time.Second), make([]byte, 17), "", nil)
		err := j.RecordPass(ctx, types.PassRecord{
			PassID:            passID,
			Node:              "sat-1",
			Reason:            reason,
			StartedAt:         start,
			EndedAt:           start.Add(time.Minute),
			PassLength:        120,
			FramesReceived:    1,
			FramesTransmitted: 1,
		})
		if err != nil {
			t.Fatalf("RecordPass failed: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestStatsCommand(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "timeout", "ceased")

	app, out := newTestApp(StatsCommand())
	if err := app.Run([]string{"radsat", "stats", "--format", "json", "--journal-path", dir}); err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	var st journal.Stats
	decodeJSON(t, out.Bytes(), &st)
	if st.Passes != 2 {
		t.Errorf("Passes = %d, want 2", st.Passes)
	}
	if st.PassesByReason["timeout"] != 1 || st.PassesByReason["ceased"] != 1 {
		t.Errorf("PassesByReason = %v", st.PassesByReason)
	}
	if st.Commands["begin_pass"] != 2 {
		t.Errorf("Commands = %v", st.Commands)
	}
	if st.TotalPassTime != 2*time.Minute {
		t.Errorf("TotalPassTime = %v, want 2m", st.TotalPassTime)
	}
}

func TestStatsCommand_Empty(t *testing.T) {
	app, _ := newTestApp(StatsCommand())
	err := app.Run([]string{"radsat", "stats", "--journal-path", t.TempDir()})
	if exitCode(t, err) != exitRuntimeError {
		t.Errorf("exit code = %d, want %d (err %v)", exitCode(t, err), exitRuntimeError, err)
	}
}

func TestStatsCommand_UnknownBackend(t *testing.T) {
	app, _ := newTestApp(StatsCommand())
	err := app.Run([]string{"radsat", "stats", "--journal-backend", "tape", "--journal-path", "x"})
	if exitCode(t, err) != exitConfigError {
		t.Errorf("exit code = %d, want %d", exitCode(t, err), exitConfigError)
	}
}

func TestPassesCommand(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "timeout", "nack_limit", "ceased")

	tests := []struct {
		name    string
		args    []string
		reasons []string
	}{
		{"all newest first", nil, []string{"ceased", "nack_limit", "timeout"}},
		{"limit", []string{"--limit", "1"}, []string{"ceased"}},
		{"reason", []string{"--reason", "timeout"}, []string{"timeout"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, out := newTestApp(PassesCommand())
			args := append([]string{"radsat", "passes", "--format", "json", "--journal-path", dir}, tt.args...)
			if err := app.Run(args); err != nil {
				t.Fatalf("passes failed: %v", err)
			}
			var items []reader.PassItem
			decodeJSON(t, out.Bytes(), &items)
			if len(items) != len(tt.reasons) {
				t.Fatalf("got %d passes, want %d", len(items), len(tt.reasons))
			}
			for i, want := range tt.reasons {
				if items[i].Reason != want {
					t.Errorf("items[%d].Reason = %q, want %q", i, items[i].Reason, want)
				}
			}
		})
	}
}

func TestPassesCommand_EmptyJournal(t *testing.T) {
	app, out := newTestApp(PassesCommand())
	if err := app.Run([]string{"radsat", "passes", "--format", "json", "--journal-path", t.TempDir()}); err != nil {
		t.Fatalf("passes failed: %v", err)
	}
	var items []reader.PassItem
	decodeJSON(t, out.Bytes(), &items)
	if len(items) != 0 {
		t.Errorf("got %d passes, want 0", len(items))
	}
}

func TestPassesCommand_TUIUnsupported(t *testing.T) {
	app, _ := newTestApp(PassesCommand())
	err := app.Run([]string{"radsat", "passes", "--tui", "--journal-path", t.TempDir()})
	if exitCode(t, err) != exitConfigError {
		t.Errorf("exit code = %d, want %d", exitCode(t, err), exitConfigError)
	}
}

func TestSortedKeys(t *testing.T) {
	got := sortedKeys(map[string]int64{"crc": 1, "bad_preamble": 2, "cipher": 3})
	want := []string{"bad_preamble", "cipher", "crc"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sortedKeys = %v, want %v", got, want)
		}
	}
}

func TestKeystoreProvisionAndCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fram.img")
	key := "0123456789abcdef"

	app, out := newTestApp(KeystoreCommand())
	if err := app.Run([]string{"radsat", "keystore", "provision", "--format", "json", "--fram", path, "--key", key}); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	var resp KeystoreResponse
	decodeJSON(t, out.Bytes(), &resp)
	if !resp.Provisioned || resp.KeySize != len(key) {
		t.Errorf("provision = %+v", resp)
	}
	if strings.Contains(out.String(), key) {
		t.Error("provision output contains the key")
	}

	// Corrupt the second copy on disk.
	img, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	img[keystore.DefaultBase+keystore.DefaultStride] ^= 0xff
	if err := os.WriteFile(path, img, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	for _, wantRepairs := range []int{1, 0} {
		app, out = newTestApp(KeystoreCommand())
		if err := app.Run([]string{"radsat", "keystore", "check", "--format", "json", "--fram", path}); err != nil {
			t.Fatalf("check failed: %v", err)
		}
		resp = KeystoreResponse{}
		decodeJSON(t, out.Bytes(), &resp)
		if resp.Repairs != wantRepairs || resp.KeySize != len(key) {
			t.Errorf("check = %+v, want %d repairs", resp, wantRepairs)
		}
	}
}

func TestKeystoreProvision_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fram.img")
	tests := []struct {
		name string
		args []string
	}{
		{"no key", nil},
		{"both keys", []string{"--key", "0123456789abcdef", "--key-hex", "00"}},
		{"wrong size", []string{"--key", "short"}},
		{"bad hex", []string{"--key-hex", "xyz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(KeystoreCommand())
			args := append([]string{"radsat", "keystore", "provision", "--fram", path}, tt.args...)
			if exitCode(t, app.Run(args)) != exitConfigError {
				t.Error("expected config error exit code")
			}
		})
	}
}

func TestKeystoreCheck_NoMajority(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fram.img")
	img := make([]byte, keystore.DefaultBase+3*keystore.DefaultStride)
	img[keystore.DefaultBase] = 1
	img[keystore.DefaultBase+keystore.DefaultStride] = 2
	img[keystore.DefaultBase+2*keystore.DefaultStride] = 3
	if err := os.WriteFile(path, img, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	app, _ := newTestApp(KeystoreCommand())
	err := app.Run([]string{"radsat", "keystore", "check", "--fram", path})
	if exitCode(t, err) != exitRuntimeError {
		t.Errorf("exit code = %d, want %d", exitCode(t, err), exitRuntimeError)
	}
}
