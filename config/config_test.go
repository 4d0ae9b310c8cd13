package config

import (
	"testing"
	"time"
)

func TestFromArgsAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := FromArgs([]string{
		"groupshared",
		"-g", "239.10.11.12",
		"-p", "10000",
		"-f", dir,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxSpace != defaultMaxSpace {
		t.Fatalf("MaxSpace = %d, want default %d", cfg.MaxSpace, defaultMaxSpace)
	}
	if cfg.Timeout != defaultTimeout*time.Second {
		t.Fatalf("Timeout = %v, want %v", cfg.Timeout, defaultTimeout*time.Second)
	}
	if cfg.StatusAddr != "" {
		t.Fatalf("StatusAddr = %q, want empty (disabled) by default", cfg.StatusAddr)
	}
}

func TestFromArgsRejectsMissingMulticastAddr(t *testing.T) {
	dir := t.TempDir()
	_, err := FromArgs([]string{"groupshared", "-p", "10000", "-f", dir})
	if err == nil {
		t.Fatal("expected error for missing --mcast-addr")
	}
}

func TestFromArgsRejectsInvalidMulticastAddr(t *testing.T) {
	dir := t.TempDir()
	_, err := FromArgs([]string{"groupshared", "-g", "not-an-ip", "-p", "10000", "-f", dir})
	if err == nil {
		t.Fatal("expected error for invalid --mcast-addr")
	}
}

func TestFromArgsRejectsNonexistentSharedFolder(t *testing.T) {
	_, err := FromArgs([]string{"groupshared", "-g", "239.10.11.12", "-p", "10000", "-f", "/does/not/exist/anywhere"})
	if err == nil {
		t.Fatal("expected error for missing shared folder")
	}
}

func TestFromArgsRejectsOutOfRangeTimeout(t *testing.T) {
	dir := t.TempDir()
	for _, bad := range []string{"0", "301"} {
		_, err := FromArgs([]string{"groupshared", "-g", "239.10.11.12", "-p", "10000", "-f", dir, "-t", bad})
		if err == nil {
			t.Fatalf("expected error for --timeout %s", bad)
		}
	}
}

func TestFromArgsAcceptsBoundaryTimeouts(t *testing.T) {
	dir := t.TempDir()
	for _, ok := range []string{"1", "300"} {
		cfg, err := FromArgs([]string{"groupshared", "-g", "239.10.11.12", "-p", "10000", "-f", dir, "-t", ok})
		if err != nil {
			t.Fatalf("unexpected error for --timeout %s: %v", ok, err)
		}
		if cfg.Timeout <= 0 {
			t.Fatalf("Timeout not set for --timeout %s", ok)
		}
	}
}

func TestFromArgsParsesMaxSpaceAndStatusAddr(t *testing.T) {
	dir := t.TempDir()
	cfg, err := FromArgs([]string{
		"groupshared",
		"-g", "239.10.11.12",
		"-p", "10000",
		"-f", dir,
		"-b", "100",
		"--status-addr", "127.0.0.1:8181",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxSpace != 100 {
		t.Fatalf("MaxSpace = %d, want 100", cfg.MaxSpace)
	}
	if cfg.StatusAddr != "127.0.0.1:8181" {
		t.Fatalf("StatusAddr = %q, want 127.0.0.1:8181", cfg.StatusAddr)
	}
}
