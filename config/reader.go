package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/annotator/logging"
)

// Read reads a config from the given file, expanding ${VAR} references from the environment.
// Files ending in .yaml or .yml are read as YAML, everything else as JSON.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	raw := map[string]interface{}{}
	switch strings.ToLower(filepath.Ext(originalPath)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrap(err, "failed to decode Config from yaml")
		}
	default:
		if err := json.NewDecoder(r).Decode(&raw); err != nil {
			return nil, errors.Wrap(err, "failed to decode Config from json")
		}
	}

	cfg := Default()
	cfg.ConfigFilePath = originalPath
	if _, ok := raw["classes"]; ok {
		// a given class table replaces the reference one instead of extending it
		cfg.Classes = nil
	}
	if err := DecodeAttributes(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process Config")
	}
	if err := cfg.Ensure(); err != nil {
		return nil, err
	}
	logger.Debugw("read config", "path", originalPath, "classes", len(cfg.Classes), "workers", cfg.Workers)
	return cfg, nil
}

// DecodeAttributes decodes a generic attribute map into to, matching keys against json tags.
// Unknown keys are an error.
func DecodeAttributes(attrs map[string]interface{}, to interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      to,
		ErrorUnused: true,
		DecodeHook:  mapstructure.TextUnmarshallerHookFunc(),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(attrs)
}
