package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks the merged configuration for structural problems. All
// servers are checked so one load reports every error at once.
func (c *Config) Validate() error {
	var errs ValidationErrors

	for name, sc := range c.Servers {
		validateServer(&errs, name, sc)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateServer(errs *ValidationErrors, name string, sc *ServerConfig) {
	field := fmt.Sprintf("mcpServers.%s", name)

	if strings.TrimSpace(name) == "" {
		errs.Add("mcpServers", "server name must not be empty", name)
		return
	}
	if strings.Contains(name, NamespaceSeparator) {
		errs.Add(field, fmt.Sprintf("server name must not contain '%s' (reserved as the capability namespace separator)", NamespaceSeparator), name)
	}

	hasCommand := sc.Command != ""
	hasURL := sc.URL != ""
	switch {
	case hasCommand && hasURL:
		errs.Add(field, "command and url are mutually exclusive")
	case !hasCommand && !hasURL:
		errs.Add(field, "either command or url is required")
	}

	if sc.DevEnabled() {
		if !sc.IsStdio() {
			errs.Add(field+".dev", "dev mode is only supported for stdio servers")
		}
		switch {
		case sc.Dev.Cwd == "":
			errs.Add(field+".dev.cwd", "is required when dev mode is enabled", sc.Dev.Cwd)
		case !filepath.IsAbs(sc.Dev.Cwd):
			errs.Add(field+".dev.cwd", "must be an absolute path", sc.Dev.Cwd)
		}
	}
}
