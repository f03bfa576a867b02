package autostart

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestDesktopEntryQuotesArgs(t *testing.T) {
	got := desktopEntry([]string{"/opt/claw tray/bin", "tray", "--config", "/tmp/c.yaml"})
	if !strings.Contains(got, `Exec="/opt/claw tray/bin" tray --config /tmp/c.yaml`) {
		t.Fatalf("desktop entry = %s", got)
	}
}

func TestLaunchAgentPlist(t *testing.T) {
	got := launchAgentPlist([]string{"/usr/local/bin/clawtray", "tray"})
	for _, want := range []string{
		"<string>com.clawtray.tray</string>",
		"<string>/usr/local/bin/clawtray</string>",
		"<string>tray</string>",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("plist missing %q:\n%s", want, got)
		}
	}
}

func TestInstallUninstallLinux(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG autostart only")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	if err := Install("--config", "/tmp/c.yaml"); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "autostart", "clawtray.desktop"))
	if err != nil {
		t.Fatalf("read desktop entry: %v", err)
	}
	if !strings.Contains(string(data), " tray --config /tmp/c.yaml") {
		t.Fatalf("desktop entry = %s", data)
	}
	if ok, err := Installed(); err != nil || !ok {
		t.Fatalf("Installed() = %v, %v", ok, err)
	}

	if err := Uninstall(); err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}
	if err := Uninstall(); err != nil {
		t.Fatalf("second Uninstall() error = %v", err)
	}
	if ok, _ := Installed(); ok {
		t.Fatal("Installed() = true after Uninstall")
	}
}
