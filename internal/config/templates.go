package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	gotoml "github.com/pelletier/go-toml/v2"
)

// Template renders a commented starter config for the given mode.
func Template(mode string) (string, error) {
	cfg := Default()
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeConnect:
	case ModeAccept:
		cfg.Mode = ModeAccept
		cfg.Address = "127.0.0.1:4444"
		cfg.Echo = true
	default:
		return "", fmt.Errorf("unknown config mode: %s", mode)
	}
	return Render(cfg)
}

// Render encodes cfg in the file layout Load reads.
func Render(cfg MonctlConfig) (string, error) {
	var buf bytes.Buffer
	buf.WriteString("# monctl configuration\n")
	buf.WriteString("# mode: connect | accept; transport: jsonl | framed | ws\n\n")
	enc := gotoml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(toFile(cfg)); err != nil {
		return "", fmt.Errorf("render config: %w", err)
	}
	return buf.String(), nil
}

func WriteTemplate(path, mode string, overwrite bool) error {
	template, err := Template(mode)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
