package platform

import (
	"runtime"
	"testing"
)

func TestOpenCommandPerPlatform(t *testing.T) {
	cmd, err := openCommand("https://example.com")
	switch runtime.GOOS {
	case "darwin", "windows":
		if err != nil {
			t.Fatalf("openCommand() error = %v", err)
		}
		if cmd == nil || len(cmd.Args) == 0 {
			t.Fatal("openCommand() returned empty command")
		}
	case "linux":
		// Either a known opener exists in PATH or we get a clear error.
		if err == nil && (cmd == nil || len(cmd.Args) < 2) {
			t.Fatal("openCommand() returned malformed command")
		}
	default:
		if err == nil {
			t.Fatal("expected unsupported-platform error")
		}
	}
	if cmd != nil && cmd.Args[len(cmd.Args)-1] != "https://example.com" {
		t.Errorf("URL not passed as final argument: %v", cmd.Args)
	}
}
