// Package server defines the request errors reported back to clients and
// helpers that classify transport errors.
package server

import (
	"errors"
	"strings"
)

// requestError is a recoverable validation or resource error. Its text is
// sent verbatim to the offending client in a ServerError packet.
type requestError string

func (e requestError) Error() string { return string(e) }

// Errors reported to clients.
const (
	ErrServerFull       = requestError("Server is full.")
	ErrEmptyUsername    = requestError("Error. Username can't be empty.")
	ErrInvalidUsername  = requestError("Invalid username.")
	ErrUsernameRequired = requestError("Define a username first.")
	ErrNoRoomForText    = requestError("First join a room using /room join <name>.")
	ErrInvalidMessage   = requestError("Invalid message.")
	ErrRateLimited      = requestError("You are sending messages too fast.")
	ErrAlreadyInRoom    = requestError("You're already in a room. First leave the room.")
	ErrInvalidRoomName  = requestError("Invalid room name.")
	ErrInvalidRoomDesc  = requestError("Room description is too long.")
	ErrRoomNameUsed     = requestError("This room name is already used.")
	ErrNoRoomSlot       = requestError("The maximum amount of rooms is reached.")
	ErrRoomNotFound     = requestError("This room does not exist.")
	ErrRoomFull         = requestError("This room is full.")
	ErrNotInRoom        = requestError("You're not in a room.")
	ErrTooManyUploads   = requestError("Already uploading too many files.")
	ErrInvalidFileSize  = requestError("Invalid file size.")
	ErrFileTooLarge     = requestError("File too large.")
	ErrTooManyDownloads = requestError("Already downloading too many files.")
	ErrFileNotFound     = requestError("This file does not exist.")
	ErrFileUnavailable  = requestError("Unable to read this file.")
	ErrStoreFailed      = requestError("Unable to store the uploaded file.")
	errInternalMessage  = "Internal server error."
	errSlotOutOfRange   = requestError("slot index out of range")
	errSlotOccupied     = requestError("slot already occupied")
	errSlotEmpty        = requestError("slot already empty")
)

// clientMessage returns the text to report for err.
func clientMessage(err error) string {
	var re requestError
	if errors.As(err, &re) {
		return string(re)
	}
	return errInternalMessage
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
