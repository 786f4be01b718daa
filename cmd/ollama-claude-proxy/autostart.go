package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"ollama-claude-proxy/internal/autostart"
)

const autostartUsage = "usage: ollama-claude-proxy autostart <install|uninstall|status> [-c config.yaml] [-env file]"

func runAutostart(args []string, logger *slog.Logger) error {
	if len(args) == 0 {
		return errors.New(autostartUsage)
	}

	manager := autostart.NewManager("")
	switch args[0] {
	case "install":
		fs := flag.NewFlagSet("autostart install", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		cfgPath := fs.String("c", "", "path to optional yaml config file")
		envFile := fs.String("env", "", "path to dotenv file")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("parse autostart install args: %w", err)
		}
		if err := manager.Install(autostart.InstallOptions{ConfigPath: *cfgPath, EnvFile: *envFile}); err != nil {
			return err
		}
		path, _ := manager.PlistPath()
		logger.Info("autostart installed", "label", manager.Label(), "plist_path", path)
		return nil
	case "uninstall":
		if err := manager.Uninstall(); err != nil {
			return err
		}
		logger.Info("autostart uninstalled", "label", manager.Label())
		return nil
	case "status":
		status, err := manager.Status()
		if err != nil {
			return err
		}
		logger.Info("autostart status",
			"label", status.Label,
			"installed", status.Installed,
			"loaded", status.Loaded,
			"plist_path", status.PlistPath,
		)
		return nil
	default:
		return fmt.Errorf("unknown autostart command: %s", args[0])
	}
}
