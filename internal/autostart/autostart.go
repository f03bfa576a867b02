package autostart

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	appName = "clawtray"
	label   = "com.clawtray.tray"
)

var ErrUnsupported = fmt.Errorf("autostart not supported on %s", runtime.GOOS)

// Install registers `clawtray tray` to run at login for the current user.
// Extra args are appended, e.g. a --config flag.
func Install(args ...string) error {
	bin, err := execPath()
	if err != nil {
		return err
	}
	argv := append([]string{bin, "tray"}, args...)

	switch runtime.GOOS {
	case "linux":
		path, err := linuxDesktopPath()
		if err != nil {
			return err
		}
		return writeEntry(path, desktopEntry(argv))
	case "darwin":
		path, err := darwinPlistPath()
		if err != nil {
			return err
		}
		if err := writeEntry(path, launchAgentPlist(argv)); err != nil {
			return err
		}
		return exec.Command("launchctl", "load", path).Run()
	default:
		return ErrUnsupported
	}
}

func Uninstall() error {
	switch runtime.GOOS {
	case "linux":
		path, err := linuxDesktopPath()
		if err != nil {
			return err
		}
		return removeEntry(path)
	case "darwin":
		path, err := darwinPlistPath()
		if err != nil {
			return err
		}
		_ = exec.Command("launchctl", "unload", path).Run()
		return removeEntry(path)
	default:
		return ErrUnsupported
	}
}

// Installed reports whether a login entry exists.
func Installed() (bool, error) {
	var path string
	var err error
	switch runtime.GOOS {
	case "linux":
		path, err = linuxDesktopPath()
	case "darwin":
		path, err = darwinPlistPath()
	default:
		return false, ErrUnsupported
	}
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func execPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(exe)
}

func writeEntry(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func removeEntry(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Linux: XDG autostart .desktop file

func linuxDesktopPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "autostart", appName+".desktop"), nil
}

func desktopEntry(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		if strings.ContainsAny(a, " \t\"'\\") {
			a = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(a) + `"`
		}
		quoted[i] = a
	}
	return fmt.Sprintf(`[Desktop Entry]
Type=Application
Name=Clawtray
Comment=Claude usage in the system tray
Exec=%s
Terminal=false
X-GNOME-Autostart-enabled=true
`, strings.Join(quoted, " "))
}

// macOS: LaunchAgent plist

func darwinPlistPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "LaunchAgents", label+".plist"), nil
}

func launchAgentPlist(argv []string) string {
	var args strings.Builder
	for _, a := range argv {
		fmt.Fprintf(&args, "        <string>%s</string>\n", xmlEscape(a))
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
%s    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <false/>
</dict>
</plist>
`, label, args.String())
}

func xmlEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}
