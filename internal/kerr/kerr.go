// Package kerr implements the kernel's error taxonomy: numeric codes grouped
// by deck prefix, severity classification, and the transient predicate the
// workflow engine's retry policy consults.
package kerr

import "fmt"

// Code is a standardized error code. Format is 0xDDCC: DD is the deck prefix
// (00 generic, 01 operations, 02 storage, 03 hardware, 04 network, 05
// workflow), CC is the error number within that band.
type Code uint32

const (
	None Code = 0x0000

	// Generic (00xx)
	Unknown           Code = 0x0001
	InvalidParameter  Code = 0x0002
	OutOfMemory       Code = 0x0003
	Timeout           Code = 0x0004
	NotImplemented    Code = 0x0005
	ResourceBusy      Code = 0x0006
	PermissionDenied  Code = 0x0007

	// Operations deck (01xx)
	OpInvalidOperation    Code = 0x0101
	OpBufferTooSmall      Code = 0x0102
	OpInvalidInput        Code = 0x0103
	OpCompressionFailed   Code = 0x0104
	OpDecompressionFailed Code = 0x0105

	// Storage deck (02xx)
	StorageFileNotFound    Code = 0x0201
	StoragePermissionDenied Code = 0x0202
	StorageDiskFull        Code = 0x0203
	StorageInvalidFD       Code = 0x0204
	StorageReadFailed      Code = 0x0205
	StorageWriteFailed     Code = 0x0206
	StorageSeekFailed      Code = 0x0207
	StorageTagNotFound     Code = 0x0208
	StorageInodeNotFound   Code = 0x0209

	// Hardware deck (03xx)
	HWTimerSlotsFull  Code = 0x0301
	HWTimerNotFound   Code = 0x0302
	HWDeviceNotFound  Code = 0x0303
	HWDeviceBusy      Code = 0x0304
	HWIoctlFailed     Code = 0x0305

	// Network deck (04xx) — reserved, spec.md §4.3.
	NetNotConnected     Code = 0x0401
	NetConnectionRefused Code = 0x0402
	NetTimeout          Code = 0x0403
	NetHostUnreachable  Code = 0x0404

	// Workflow (05xx)
	WorkflowNotFound          Code = 0x0501
	WorkflowAlreadyRunning    Code = 0x0502
	WorkflowDependencyFailed  Code = 0x0503
	WorkflowSubmitFailed      Code = 0x0504
	WorkflowAborted           Code = 0x0505
)

// Severity is the first of the two error-handling axes from spec.md §7.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Deck extracts the deck-prefix byte from a code.
func (c Code) Deck() uint8 { return uint8(c>>8) & 0xff }

// Number extracts the error number within the deck's band.
func (c Code) Number() uint8 { return uint8(c) & 0xff }

var names = map[Code]string{
	None:                     "none",
	Unknown:                  "unknown error",
	InvalidParameter:         "invalid parameter",
	OutOfMemory:              "out of memory",
	Timeout:                  "timeout",
	NotImplemented:           "not implemented",
	ResourceBusy:             "resource busy",
	PermissionDenied:         "permission denied",
	OpInvalidOperation:       "invalid operation",
	OpBufferTooSmall:         "buffer too small",
	OpInvalidInput:           "invalid input",
	OpCompressionFailed:      "compression failed",
	OpDecompressionFailed:    "decompression failed",
	StorageFileNotFound:      "file not found",
	StoragePermissionDenied:  "storage permission denied",
	StorageDiskFull:          "disk full",
	StorageInvalidFD:         "invalid file descriptor",
	StorageReadFailed:        "read failed",
	StorageWriteFailed:       "write failed",
	StorageSeekFailed:        "seek failed",
	StorageTagNotFound:       "tag not found",
	StorageInodeNotFound:     "inode not found",
	HWTimerSlotsFull:         "timer slots full",
	HWTimerNotFound:          "timer not found",
	HWDeviceNotFound:         "device not found",
	HWDeviceBusy:             "device busy",
	HWIoctlFailed:            "ioctl failed",
	NetNotConnected:          "not connected",
	NetConnectionRefused:     "connection refused",
	NetTimeout:               "network timeout",
	NetHostUnreachable:       "host unreachable",
	WorkflowNotFound:         "workflow not found",
	WorkflowAlreadyRunning:   "workflow already running",
	WorkflowDependencyFailed: "dependency failed",
	WorkflowSubmitFailed:     "submit failed",
	WorkflowAborted:          "workflow aborted",
}

// String renders a human-readable message for a code, falling back to the
// numeric form for codes outside the known table.
func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("error 0x%04x", uint32(c))
}

// Transient reports whether the retry policy is permitted to recover from
// this code by resubmitting. See spec.md §4.9's classification table.
func (c Code) Transient() bool {
	switch c {
	case Timeout, ResourceBusy, StorageDiskFull, HWDeviceBusy, NetTimeout, NetHostUnreachable:
		return true
	default:
		return false
	}
}

// Severity classifies a code for logging purposes. Codes are never Fatal at
// this layer — a Fatal error is a kernel-mode fault, handled in
// internal/arch, not a deck/workflow-level Code.
func (c Code) Severity() Severity {
	if c == None {
		return SeverityInfo
	}
	if c.Transient() {
		return SeverityWarning
	}
	return SeverityError
}

// KError is the typed error value every kernel-internal function returns in
// place of exceptions (spec.md §7: "no exceptions, no unwinding; every
// failure is a typed value"). It implements the standard error interface so
// internal code still composes with errors.Is/errors.As while carrying the
// numeric Code the wire protocol and the retry/transience logic need.
type KError struct {
	Code    Code
	Message string
}

func New(code Code) *KError { return &KError{Code: code, Message: code.String()} }

func Wrap(code Code, msg string) *KError { return &KError{Code: code, Message: msg} }

func (e *KError) Error() string {
	if e.Message != "" && e.Message != e.Code.String() {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code.String()
}

func (e *KError) Is(target error) bool {
	t, ok := target.(*KError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Context is the detailed error record spec.md's distillation dropped from
// the original (errors.c's ErrorContext): deck prefix, event/workflow
// identity, timestamp, and a free-form message, used for structured logging
// at the point of failure.
type Context struct {
	Code       Code
	Severity   Severity
	DeckPrefix uint8
	EventID    uint64
	WorkflowID uint64
	Timestamp  uint64
	Message    string
}

// NewContext builds a Context, defaulting Message to the code's string form
// and Severity to the code's classification, mirroring errors.c's
// error_context_init.
func NewContext(code Code, deckPrefix uint8, eventID, workflowID, timestamp uint64, message string) Context {
	if message == "" {
		message = code.String()
	}
	return Context{
		Code:       code,
		Severity:   code.Severity(),
		DeckPrefix: deckPrefix,
		EventID:    eventID,
		WorkflowID: workflowID,
		Timestamp:  timestamp,
		Message:    message,
	}
}
