// Package autostart installs the proxy as a macOS LaunchAgent so it comes
// up at login on the default Ollama port.
package autostart

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"ollama-claude-proxy/internal/config"
)

const (
	DefaultLabel = "com.ollama-claude-proxy"
	logDirName   = "ollama-claude-proxy"
)

var ErrUnsupported = errors.New("autostart is only supported on macOS")

type Status struct {
	Label     string
	PlistPath string
	Installed bool
	Loaded    bool
}

// InstallOptions are passed through to the agent's command line. Both are
// optional since the proxy can be configured from the environment alone.
type InstallOptions struct {
	ConfigPath string
	EnvFile    string
}

type Manager struct {
	label     string
	goos      string
	homeDir   func() (string, error)
	launchctl func(args ...string) error
}

func NewManager(label string) *Manager {
	if strings.TrimSpace(label) == "" {
		label = DefaultLabel
	}
	return &Manager{
		label:     label,
		goos:      runtime.GOOS,
		homeDir:   os.UserHomeDir,
		launchctl: runLaunchctl,
	}
}

func (m *Manager) Label() string {
	return m.label
}

func (m *Manager) PlistPath() (string, error) {
	home, err := m.homeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, "Library", "LaunchAgents", m.label+".plist"), nil
}

// Install validates the configuration the agent will start with, writes the
// plist and (re)loads it.
func (m *Manager) Install(opts InstallOptions) error {
	if m.goos != "darwin" {
		return ErrUnsupported
	}

	agent := launchAgent{Label: m.label}
	var err error
	if agent.ConfigPath, err = absIfSet(opts.ConfigPath); err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if agent.EnvFile, err = absIfSet(opts.EnvFile); err != nil {
		return fmt.Errorf("resolve env file: %w", err)
	}
	if _, err := config.Load(config.Options{Path: agent.ConfigPath, EnvFile: agent.EnvFile}); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if agent.Executable, err = executablePath(); err != nil {
		return err
	}

	home, err := m.homeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	logDir := filepath.Join(home, "Library", "Logs", logDirName)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	agent.StdoutPath = filepath.Join(logDir, "proxy.out.log")
	agent.StderrPath = filepath.Join(logDir, "proxy.err.log")

	plistPath, err := m.PlistPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(plistPath), 0o755); err != nil {
		return fmt.Errorf("create launch agent directory: %w", err)
	}
	content, err := agent.render()
	if err != nil {
		return err
	}
	if err := os.WriteFile(plistPath, content, 0o644); err != nil {
		return fmt.Errorf("write plist: %w", err)
	}

	domain := m.domain()
	// A previous copy may still be loaded; bootout failing is expected otherwise.
	_ = m.launchctl("bootout", domain, plistPath)
	if err := m.launchctl("bootstrap", domain, plistPath); err != nil {
		return err
	}
	_ = m.launchctl("enable", domain+"/"+m.label)
	return m.launchctl("kickstart", "-k", domain+"/"+m.label)
}

func (m *Manager) Uninstall() error {
	if m.goos != "darwin" {
		return ErrUnsupported
	}
	plistPath, err := m.PlistPath()
	if err != nil {
		return err
	}
	_ = m.launchctl("bootout", m.domain(), plistPath)
	if err := os.Remove(plistPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}

func (m *Manager) Status() (Status, error) {
	if m.goos != "darwin" {
		return Status{}, ErrUnsupported
	}
	plistPath, err := m.PlistPath()
	if err != nil {
		return Status{}, err
	}

	st := Status{Label: m.label, PlistPath: plistPath}
	switch _, err := os.Stat(plistPath); {
	case err == nil:
		st.Installed = true
	case errors.Is(err, os.ErrNotExist):
		return st, nil
	default:
		return Status{}, fmt.Errorf("stat plist: %w", err)
	}
	st.Loaded = m.launchctl("print", m.domain()+"/"+m.label) == nil
	return st, nil
}

func (m *Manager) domain() string {
	return fmt.Sprintf("gui/%d", os.Getuid())
}

func absIfSet(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	return abs, nil
}

func executablePath() (string, error) {
	path, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		path = real
	}
	return path, nil
}

func runLaunchctl(args ...string) error {
	out, err := exec.Command("launchctl", args...).CombinedOutput()
	if err == nil {
		return nil
	}
	if msg := strings.TrimSpace(string(out)); msg != "" {
		return fmt.Errorf("launchctl %s: %s", strings.Join(args, " "), msg)
	}
	return fmt.Errorf("launchctl %s: %w", strings.Join(args, " "), err)
}
