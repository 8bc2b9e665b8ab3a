package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeClock lets tests move the audit writer across day boundaries.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestDailyFile(t *testing.T, clock *fakeClock, retention int) (*dailyFile, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := newDailyFile(filepath.Join(dir, "audit.log"), 1, retention)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.now = clock.Now
	t.Cleanup(func() { _ = w.Close() })
	return w, dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(content)
}

func TestDailyFileRollsOverAtUTCMidnight(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)}
	w, dir := newTestDailyFile(t, clock, 30)

	if _, err := w.Write([]byte("settled s1\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// 01:30 in UTC+2 is still March 1st in UTC.
	clock.now = time.Date(2026, 3, 2, 1, 30, 0, 0, time.FixedZone("EET", 2*3600))
	if _, err := w.Write([]byte("settled s2\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock.now = time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC)
	if _, err := w.Write([]byte("settled s3\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := readFile(t, filepath.Join(dir, "audit-2026-03-01.log")); got != "settled s1\nsettled s2\n" {
		t.Fatalf("unexpected first day content %q", got)
	}
	if got := readFile(t, filepath.Join(dir, "audit-2026-03-02.log")); got != "settled s3\n" {
		t.Fatalf("unexpected second day content %q", got)
	}
}

func TestDailyFileSplitsOversizedDay(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	w, dir := newTestDailyFile(t, clock, 30)
	w.maxSize = 16

	for _, line := range []string{"0123456789\n", "abcdefghij\n", "klmnopqrst\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	want := map[string]string{
		"audit-2026-03-01.log":   "0123456789\n",
		"audit-2026-03-01.1.log": "abcdefghij\n",
		"audit-2026-03-01.2.log": "klmnopqrst\n",
	}
	for name, content := range want {
		if got := readFile(t, filepath.Join(dir, name)); got != content {
			t.Fatalf("unexpected content of %s: %q", name, got)
		}
	}
}

func TestDailyFileResumesLastPartAfterRestart(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	w, dir := newTestDailyFile(t, clock, 30)
	w.maxSize = 16
	for _, line := range []string{"0123456789\n", "abcdefghij\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := newDailyFile(filepath.Join(dir, "audit.log"), 1, 30)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	reopened.now = clock.Now
	reopened.maxSize = 16
	t.Cleanup(func() { _ = reopened.Close() })
	if _, err := reopened.Write([]byte("xyz\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := readFile(t, filepath.Join(dir, "audit-2026-03-01.1.log")); got != "abcdefghij\nxyz\n" {
		t.Fatalf("expected the last part to be resumed, got %q", got)
	}
}

func TestDailyFilePrunesExpiredDays(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)}
	w, dir := newTestDailyFile(t, clock, 7)

	for _, name := range []string{"audit-2026-03-01.log", "audit-2026-03-01.1.log", "audit-2026-03-03.log", "audit-notes.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("old\n"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	if _, err := w.Write([]byte("settled s1\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, name := range []string{"audit-2026-03-01.log", "audit-2026-03-01.1.log"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be pruned, stat err %v", name, err)
		}
	}
	for _, name := range []string{"audit-2026-03-03.log", "audit-notes.log", "audit-2026-03-10.log"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to be kept: %v", name, err)
		}
	}
}

func TestInitAuditWritesDayFile(t *testing.T) {
	dir := t.TempDir()
	if err := Init(Config{Audit: AuditConfig{Enabled: true, Path: filepath.Join(dir, "audit.log")}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = Sync()
		_ = Init(Config{})
	})

	Audit().Info("fee settled", "session_id", "s1")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one day file, got %v (%v)", matches, err)
	}
	if got := readFile(t, matches[0]); !strings.Contains(got, `"session_id":"s1"`) {
		t.Fatalf("session id missing from audit record: %s", got)
	}
}

func TestInitWritesNamedComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := Init(Config{Level: "debug", Format: "json", OutputPaths: []string{path}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = Sync()
		_ = Init(Config{})
	})

	Named("store").Debug("refresh finished")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !bytes.Contains(content, []byte(`"component":"store"`)) {
		t.Fatalf("component attribute missing: %s", content)
	}
	if !strings.Contains(string(content), "refresh finished") {
		t.Fatalf("message missing: %s", content)
	}
}
