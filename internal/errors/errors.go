package errors

import (
	"errors"
	"fmt"
)

// Error categories. Every typed error below matches exactly one of these with errors.Is.
var (
	ErrConnection  = errors.New("connection error")
	ErrTransferIO  = errors.New("transfer i/o error")
	ErrProtocol    = errors.New("protocol error")
	ErrCompression = errors.New("compression error")
	ErrValidation  = errors.New("validation error")

	// ErrBusy is returned when a second transfer is started while one is still running.
	ErrBusy = errors.New("another transfer is in progress")
)

// ConnectionError covers dial, bind, listen and accept failures
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s to %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// TransferIOError covers file open/read/write failures and incomplete socket transfers
type TransferIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransferIOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("transfer i/o error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transfer i/o error during %s on %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransferIOError) Unwrap() error {
	return e.Err
}

func (e *TransferIOError) Is(target error) bool {
	return target == ErrTransferIO
}

// ProtocolError represents a malformed or unrecognized command line
type ProtocolError struct {
	Op      string
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error during %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("protocol error during %s: %s", e.Op, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// CompressionError represents compression-related errors
type CompressionError struct {
	Op  string
	Err error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compression error during %s: %v", e.Op, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

func (e *CompressionError) Is(target error) bool {
	return target == ErrCompression
}

// ValidationError represents validation errors
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s='%v': %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Helper functions for creating errors

func NewConnectionError(op, addr string, err error) error {
	return &ConnectionError{Op: op, Addr: addr, Err: err}
}

func NewTransferIOError(op, path string, err error) error {
	return &TransferIOError{Op: op, Path: path, Err: err}
}

func NewProtocolError(op, message string, err error) error {
	return &ProtocolError{Op: op, Message: message, Err: err}
}

func NewCompressionError(op string, err error) error {
	return &CompressionError{Op: op, Err: err}
}

func NewValidationError(field string, value interface{}, message string) error {
	return &ValidationError{Field: field, Value: value, Message: message}
}
