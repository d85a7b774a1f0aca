package task

import "errors"

var (
	ErrInvalidURL      = errors.New("url must be an absolute http(s) address")
	ErrTaskNotFound    = errors.New("task not found")
	ErrBusy            = errors.New("all processing slots are busy")
	ErrTaskNotTerminal = errors.New("task is still running")
	ErrArchiveNotReady = errors.New("archive is only available for completed tasks")
)
