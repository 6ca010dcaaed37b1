package lessons

import (
	"errors"
	"fmt"
	"strings"

	"lessoncast/internal/audio"
)

var (
	// ErrLessonNotFound is returned when the lesson id does not exist
	ErrLessonNotFound = errors.New("lesson not found")
	// ErrLineNotFound is returned when the line id does not exist
	ErrLineNotFound = errors.New("line not found")
	// ErrNoContent means no line of the lesson has a clip attached
	ErrNoContent = errors.New("lesson has no line audio to build")
	// ErrMissingClip means a line references a clip that is absent from storage
	ErrMissingClip = errors.New("line audio file is missing")
	// ErrCorruptClip means a line's clip is truncated or cannot be decoded
	ErrCorruptClip = errors.New("line audio file is corrupt")
	// ErrInvalidLineSet means a reorder request does not name the lesson's lines exactly once
	ErrInvalidLineSet = errors.New("ordered line ids do not match the lesson's lines")
	// ErrUnsupportedFormat means an uploaded clip has an extension that is not accepted
	ErrUnsupportedFormat = audio.ErrUnsupportedFormat
	// ErrInvalidInput covers malformed request values such as an empty title
	ErrInvalidInput = errors.New("invalid input")
)

// ClipKind distinguishes the clip validation failures
type ClipKind string

const (
	MissingClip ClipKind = "missing_clip"
	CorruptClip ClipKind = "corrupt_clip"
)

// ClipError reports which line's clip stopped a build
type ClipError struct {
	Kind   ClipKind
	LineID int64
	Path   string
	Err    error
}

func (e *ClipError) Error() string {
	msg := fmt.Sprintf("line %d: %s (%s)", e.LineID, e.sentinel().Error(), e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ClipError) sentinel() error {
	if e.Kind == MissingClip {
		return ErrMissingClip
	}
	return ErrCorruptClip
}

// Is matches the sentinel for the error's kind
func (e *ClipError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *ClipError) Unwrap() error {
	return e.Err
}

// LineSetError describes how a reorder request differs from the lesson's lines
type LineSetError struct {
	Missing   []int64
	Unknown   []int64
	Duplicate []int64
}

func (e *LineSetError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing %v", e.Missing))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, fmt.Sprintf("unknown %v", e.Unknown))
	}
	if len(e.Duplicate) > 0 {
		parts = append(parts, fmt.Sprintf("duplicate %v", e.Duplicate))
	}
	return ErrInvalidLineSet.Error() + ": " + strings.Join(parts, ", ")
}

func (e *LineSetError) Is(target error) bool {
	return target == ErrInvalidLineSet
}

// IsValidationError reports whether err is a request or content problem rather than
// an infrastructure failure. Validation errors are never worth retrying.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrLessonNotFound) ||
		errors.Is(err, ErrLineNotFound) ||
		errors.Is(err, ErrNoContent) ||
		errors.Is(err, ErrMissingClip) ||
		errors.Is(err, ErrCorruptClip) ||
		errors.Is(err, ErrInvalidLineSet) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrInvalidInput)
}

// BuildResultLabel maps a build error to the metrics label
func BuildResultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrLessonNotFound):
		return "not_found"
	case errors.Is(err, ErrNoContent):
		return "no_content"
	case errors.Is(err, ErrMissingClip):
		return string(MissingClip)
	case errors.Is(err, ErrCorruptClip):
		return string(CorruptClip)
	default:
		return "error"
	}
}
