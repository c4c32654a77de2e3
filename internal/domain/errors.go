package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("resource not found")
	ErrDuplicateActiveJob = errors.New("document already has an active conversion job")
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")
	ErrExpired            = errors.New("cached pages have expired")
)

// ErrorClass says whether a conversion failure is worth retrying.
type ErrorClass string

const (
	ErrorClassTransient ErrorClass = "transient"
	ErrorClassPermanent ErrorClass = "permanent"
)

// ConversionStep identifies the pipeline step that failed.
type ConversionStep string

const (
	StepDownload  ConversionStep = "download"
	StepInspect   ConversionStep = "inspect"
	StepRasterize ConversionStep = "rasterize"
	StepOptimize  ConversionStep = "optimize"
	StepUpload    ConversionStep = "upload"
)

// ConversionError is a classified failure from the conversion pipeline.
// The class is set by the component that detected the failure, never
// inferred later from message text.
type ConversionError struct {
	Step  ConversionStep
	Class ErrorClass
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func Transient(step ConversionStep, err error) *ConversionError {
	return &ConversionError{Step: step, Class: ErrorClassTransient, Err: err}
}

func Permanent(step ConversionStep, err error) *ConversionError {
	return &ConversionError{Step: step, Class: ErrorClassPermanent, Err: err}
}

// IsTransient reports whether err is a retryable conversion failure.
// Unclassified errors count as transient so an infrastructure hiccup is
// never promoted to a terminal failure.
func IsTransient(err error) bool {
	var convErr *ConversionError
	if errors.As(err, &convErr) {
		return convErr.Class == ErrorClassTransient
	}
	return true
}
