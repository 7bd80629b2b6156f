// Package autostart registers the watcher to start at login: an XDG
// autostart entry on Linux and a LaunchAgent on macOS.
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

const label = "com.clawpulse.watch"

var ErrUnsupported = errors.New("autostart not supported on this platform")

// Installer writes and removes the platform entry. The zero value is not
// usable; call New.
type Installer struct {
	goos      string
	configDir func() (string, error)
	homeDir   func() (string, error)
	run       func(name string, args ...string) error
}

func New() *Installer {
	return &Installer{
		goos:      runtime.GOOS,
		configDir: os.UserConfigDir,
		homeDir:   os.UserHomeDir,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// ExecPath is the resolved path of the running binary.
func ExecPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(exe)
}

// Install starts bin with args at login and returns the file it wrote.
func (i *Installer) Install(bin string, args []string) (string, error) {
	path, err := i.Path()
	if err != nil {
		return "", err
	}
	var content string
	switch i.goos {
	case "linux":
		content = desktopEntry(bin, args)
	case "darwin":
		content = launchAgent(bin, args)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create autostart dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write autostart entry: %w", err)
	}
	if i.goos == "darwin" {
		if err := i.run("launchctl", "load", path); err != nil {
			return "", fmt.Errorf("launchctl load: %w", err)
		}
	}
	return path, nil
}

// Uninstall removes the entry. A missing entry is not an error.
func (i *Installer) Uninstall() error {
	path, err := i.Path()
	if err != nil {
		return err
	}
	if i.goos == "darwin" {
		// Fails when the agent is not loaded, which is fine.
		_ = i.run("launchctl", "unload", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove autostart entry: %w", err)
	}
	return nil
}

// Path is where the entry lives on this platform.
func (i *Installer) Path() (string, error) {
	switch i.goos {
	case "linux":
		dir, err := i.configDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "autostart", "clawpulse.desktop"), nil
	case "darwin":
		home, err := i.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "LaunchAgents", label+".plist"), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, i.goos)
}

func desktopEntry(bin string, args []string) string {
	return fmt.Sprintf(`[Desktop Entry]
Type=Application
Name=clawpulse
Comment=Claude usage watcher
Exec=%s
Terminal=false
X-GNOME-Autostart-enabled=true
`, strings.Join(append([]string{bin}, args...), " "))
}

func launchAgent(bin string, args []string) string {
	var b strings.Builder
	for _, a := range append([]string{bin}, args...) {
		fmt.Fprintf(&b, "        <string>%s</string>\n", a)
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
`, label, b.String())
}
