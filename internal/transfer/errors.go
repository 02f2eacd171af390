package transfer

import (
	"errors"
	"fmt"
)

var (
	ErrChannelNotReady   = errors.New("channel not ready")
	ErrTransferAborted   = errors.New("transfer aborted")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrUnexpectedChunk   = errors.New("unexpected chunk")
	ErrBufferTimeout     = errors.New("buffer drain timeout")
	ErrEmptyBatch        = errors.New("no files to send")
)

type TransferError struct {
	Op      string
	File    string
	Err     error
	Details string
}

func (e *TransferError) Error() string {
	if e.File != "" {
		if e.Details != "" {
			return fmt.Sprintf("%s %s: %v (%s)", e.Op, e.File, e.Err, e.Details)
		}
		return fmt.Sprintf("%s %s: %v", e.Op, e.File, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *TransferError {
	return &TransferError{Op: op, Err: err}
}

func NewFileError(op, file string, err error) *TransferError {
	return &TransferError{Op: op, File: file, Err: err}
}

func WrapError(op string, err error, details string) *TransferError {
	return &TransferError{Op: op, Err: err, Details: details}
}

// IsRecoverable reports whether a receive-side error should be logged and
// skipped rather than ending the transfer.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrUnexpectedChunk)
}
