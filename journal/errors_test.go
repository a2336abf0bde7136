package journal

import (
	"errors"
	"os"
	"strings"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "op failed" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"fs permission", os.ErrPermission, ErrPermissionDenied},
		{"fs missing", errors.New("open /x: no such file or directory"), ErrNotFound},
		{"s3 missing key", errors.New("api error NoSuchKey"), ErrNotFound},
		{"disk full", errors.New("write: no space left on device"), ErrDiskFull},
		{"typed timeout", timeoutErr{}, ErrTimeout},
		{"deadline", errors.New("context deadline exceeded"), ErrTimeout},
		{"throttled", errors.New("api error SlowDown: reduce request rate"), ErrThrottled},
		{"auth", errors.New("NoCredentialProviders: no valid providers"), ErrAuth},
		{"forbidden", errors.New("api error AccessDenied: Access Denied"), ErrAccessDenied},
		{"network", errors.New("dial tcp 10.0.0.1:9000: connect: connection refused"), ErrNetwork},
		{"other", errors.New("something odd"), ErrUnclassified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStorageError(t *testing.T) {
	cause := errors.New("no space left on device")
	err := WrapWriteError(cause, "radsat")

	if !errors.Is(err, ErrDiskFull) {
		t.Error("errors.Is(err, ErrDiskFull) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("cause lost from chain")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("matched the wrong kind")
	}
	msg := err.Error()
	for _, part := range []string{"write", "radsat", "no space left"} {
		if !strings.Contains(msg, part) {
			t.Errorf("Error() = %q, missing %q", msg, part)
		}
	}

	if WrapReadError(nil, "x") != nil {
		t.Error("nil error wrapped")
	}
	if again := WrapReadError(err, "other"); again != err {
		t.Error("StorageError wrapped twice")
	}
	if got := WrapInitError(errors.New("bad"), "radsat").Error(); got != "journal init radsat: storage error: bad" {
		t.Errorf("Error() = %q", got)
	}
}
