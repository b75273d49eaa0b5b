// Package cliconfig backs the config and doctor commands: dotted-path edits
// of the config file and health checks over the effective configuration.
package cliconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/sidekick-chat/sidekick/internal/config"
)

var bracketIndex = regexp.MustCompile(`\[(\d+)\]`)

// normalizePath accepts both "a.b[0].c" and "a.b.0.c".
func normalizePath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.Count(p, "[") != strings.Count(p, "]") {
		return "", fmt.Errorf("invalid path: unbalanced brackets in %q", path)
	}
	p = bracketIndex.ReplaceAllString(p, ".$1")
	if strings.ContainsAny(p, "[]") {
		return "", fmt.Errorf("invalid array index in %q", path)
	}
	return strings.Trim(p, "."), nil
}

// Get returns the effective config value at path, rendered as indented JSON
// for objects and arrays and as plain text otherwise.
func Get(path string) (string, error) {
	p, err := normalizePath(path)
	if err != nil {
		return "", err
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	res := gjson.GetBytes(data, p)
	if !res.Exists() {
		return "", fmt.Errorf("path not found: %s", path)
	}
	if res.IsObject() || res.IsArray() {
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(res.Raw), "", "  "); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
	return res.String(), nil
}

// Set writes a value at path into the config file. A value that parses as
// JSON is stored as JSON; anything else is stored as a string.
func Set(path, rawValue string) error {
	p, err := normalizePath(path)
	if err != nil {
		return err
	}
	data, cfgPath, err := loadFile()
	if err != nil {
		return err
	}
	if gjson.Valid(rawValue) {
		data, err = sjson.SetRawBytes(data, p, []byte(rawValue))
	} else {
		data, err = sjson.SetBytes(data, p, rawValue)
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return saveFile(cfgPath, data)
}

// Unset removes a value at path from the config file.
func Unset(path string) error {
	p, err := normalizePath(path)
	if err != nil {
		return err
	}
	data, cfgPath, err := loadFile()
	if err != nil {
		return err
	}
	if !gjson.GetBytes(data, p).Exists() {
		return fmt.Errorf("path not found: %s", path)
	}
	data, err = sjson.DeleteBytes(data, p)
	if err != nil {
		return fmt.Errorf("unset %s: %w", path, err)
	}
	return saveFile(cfgPath, data)
}

func loadFile() ([]byte, string, error) {
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(cfgPath)
	if os.IsNotExist(err) {
		return []byte("{}"), cfgPath, nil
	}
	if err != nil {
		return nil, "", err
	}
	if !gjson.ValidBytes(data) {
		return nil, "", fmt.Errorf("config file %s is not valid JSON", cfgPath)
	}
	return data, cfgPath, nil
}

func saveFile(cfgPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	return os.WriteFile(cfgPath, buf.Bytes(), 0o600)
}
