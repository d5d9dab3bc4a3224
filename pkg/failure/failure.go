// Package failure defines the error taxonomy shared by every stage of the
// grooming and modelling pipeline.
//
// Every fatal condition wraps one of the sentinel errors below so callers can
// classify it with errors.Is, and per-sample failures are wrapped in a
// StageError so the message always names the offending stage and sample.
package failure

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrMissingArtifact indicates an expected input or paired file is absent.
	ErrMissingArtifact = errors.New("missing artifact")

	// ErrDegenerateGeometry indicates an empty clip result, a zero-area plane
	// or a singular transform.
	ErrDegenerateGeometry = errors.New("degenerate geometry")

	// ErrConfiguration indicates unrecognized or contradictory configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrExternalService indicates an external tool failed or produced
	// incomplete output.
	ErrExternalService = errors.New("external service failure")
)

// StageError reports a failure in a pipeline stage for one or more samples.
type StageError struct {
	Stage   string
	Samples []string
	Err     error
}

func (e *StageError) Error() string {
	if len(e.Samples) == 0 {
		return fmt.Sprintf("stage %q failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %q failed for sample %s: %v", e.Stage, strings.Join(e.Samples, ", "), e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ForSample wraps err as a StageError for a single sample.
// A nil err yields nil.
func ForSample(stage, sample string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Samples: []string{sample}, Err: err}
}

// ForSamples wraps err as a StageError naming several samples.
func ForSamples(stage string, samples []string, err error) error {
	if err == nil {
		return nil
	}
	names := append([]string(nil), samples...)
	sort.Strings(names)
	return &StageError{Stage: stage, Samples: names, Err: err}
}

// Configf builds an ErrConfiguration error with a formatted message.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Degeneratef builds an ErrDegenerateGeometry error with a formatted message.
func Degeneratef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDegenerateGeometry, fmt.Sprintf(format, args...))
}

// Missingf builds an ErrMissingArtifact error with a formatted message.
func Missingf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMissingArtifact, fmt.Sprintf(format, args...))
}

// Externalf builds an ErrExternalService error with a formatted message.
func Externalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExternalService, fmt.Sprintf(format, args...))
}

// SamplesOf returns the sample identifiers named by err, if err wraps a
// StageError.
func SamplesOf(err error) []string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Samples
	}
	return nil
}
