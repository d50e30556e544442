package models

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Match with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrUnsupportedFormat  = errors.New("unsupported subtitle format")
	ErrToolUnavailable    = errors.New("extraction tool unavailable")
	ErrInsufficientMemory = errors.New("insufficient memory")
	ErrConversionFailure  = errors.New("conversion failed")
	ErrDiscoveryExhausted = errors.New("no subtitles found")
)

// Conversion stages reported by ConversionError.
const (
	StageFetch   = "fetch"
	StageConvert = "convert"
	StageClean   = "clean"
	StagePublish = "publish"
)

// ConversionError reports which step of a conversion failed.
type ConversionError struct {
	Stage  string
	Target string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s %q failed at %s: %v", ErrConversionFailure, e.Target, e.Stage, e.Err)
}

// Unwrap exposes both the cause and ErrConversionFailure.
func (e *ConversionError) Unwrap() []error {
	return []error{ErrConversionFailure, e.Err}
}

// CapacityError is returned when a source file would not fit in memory.
type CapacityError struct {
	SourceSize int64
	Available  int64
	Margin     int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: source file is %d bytes, available memory is %d bytes (margin %d bytes)",
		ErrInsufficientMemory, e.SourceSize, e.Available, e.Margin)
}

func (e *CapacityError) Unwrap() error {
	return ErrInsufficientMemory
}
