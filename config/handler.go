package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Handler loads the yaml configuration, creating a default one on first run.
type Handler struct {
	p string
}

func NewHandler(path string) *Handler {
	return &Handler{p: path}
}

func (c *Handler) Path() string {
	return c.p
}

func (c *Handler) createFromTemplateFile() ([]byte, error) {
	data, err := yaml.Marshal(AddDefaults(&Root{}))
	if err != nil {
		return nil, fmt.Errorf("error rendering default configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.p), 0744); err != nil {
		return nil, fmt.Errorf("error creating path for configuration file: %s, %w", c.p, err)
	}

	if err := os.WriteFile(c.p, data, 0644); err != nil {
		return nil, fmt.Errorf("error writing configuration file: %w", err)
	}

	return data, nil
}

func (c *Handler) GetRaw() ([]byte, error) {
	data, err := os.ReadFile(c.p)
	if os.IsNotExist(err) {
		return c.createFromTemplateFile()
	}
	if err != nil {
		return nil, fmt.Errorf("error reading configuration file: %w", err)
	}

	return data, nil
}

func (c *Handler) Get() (*Root, error) {
	b, err := c.GetRaw()
	if err != nil {
		return nil, err
	}

	conf := &Root{}
	if err := yaml.Unmarshal(b, conf); err != nil {
		return nil, fmt.Errorf("error parsing configuration file: %w", err)
	}

	return AddDefaults(conf), nil
}

// Set persists conf, replacing the current file.
func (c *Handler) Set(conf *Root) error {
	data, err := yaml.Marshal(conf)
	if err != nil {
		return fmt.Errorf("error marshaling configuration: %w", err)
	}

	if err := os.WriteFile(c.p, data, 0644); err != nil {
		return fmt.Errorf("error writing configuration file: %w", err)
	}

	return nil
}
