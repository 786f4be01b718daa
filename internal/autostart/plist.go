package autostart

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"text/template"
)

type launchAgent struct {
	Label      string
	Executable string
	ConfigPath string
	EnvFile    string
	StdoutPath string
	StderrPath string
}

// Arguments is the agent's ProgramArguments, executable first.
func (a launchAgent) Arguments() []string {
	args := []string{a.Executable}
	if a.ConfigPath != "" {
		args = append(args, "-c", a.ConfigPath)
	}
	if a.EnvFile != "" {
		args = append(args, "-env", a.EnvFile)
	}
	return args
}

var plistTemplate = template.Must(template.New("plist").Funcs(template.FuncMap{
	"xml": escapeXML,
}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key>
  <string>{{xml .Label}}</string>
  <key>ProgramArguments</key>
  <array>
{{- range .Arguments}}
    <string>{{xml .}}</string>
{{- end}}
  </array>
  <key>RunAtLoad</key>
  <true/>
  <key>KeepAlive</key>
  <true/>
  <key>StandardOutPath</key>
  <string>{{xml .StdoutPath}}</string>
  <key>StandardErrorPath</key>
  <string>{{xml .StderrPath}}</string>
</dict>
</plist>
`))

func (a launchAgent) render() ([]byte, error) {
	var buf bytes.Buffer
	if err := plistTemplate.Execute(&buf, a); err != nil {
		return nil, fmt.Errorf("render plist: %w", err)
	}
	return buf.Bytes(), nil
}

func escapeXML(s string) (string, error) {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
