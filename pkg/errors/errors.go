// Package errors defines the error taxonomy of the mapcache engine. No error
// in this subsystem is fatal: callers are expected to keep the previously
// known good state and retry later.
package errors

import "fmt"

// Common error types.
var (
	// Config errors.
	ErrEmptyConfigPath   = fmt.Errorf("config file path cannot be empty")
	ErrInvalidConfigPath = fmt.Errorf("invalid config file path")
	ErrConfigParse       = fmt.Errorf("failed to parse config")
	ErrConfigValidation  = fmt.Errorf("invalid configuration")

	// Engine errors.
	ErrTransport         = fmt.Errorf("download failed")
	ErrParse             = fmt.Errorf("malformed catalog document")
	ErrFilesystem        = fmt.Errorf("filesystem operation failed")
	ErrInvalidURL        = fmt.Errorf("item has no valid remote URL")
	ErrUnsupportedFormat = fmt.Errorf("catalog format version not supported")

	// Settings errors.
	ErrSettingsLoad = fmt.Errorf("failed to load settings")
	ErrSettingsSave = fmt.Errorf("failed to save settings")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
