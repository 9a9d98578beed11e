// Package code is the closed catalog of API response codes.
//
// Progress and success codes live in the 700 band, errors in the 500 band.
// Every core operation answers with a Response built from this catalog so
// that callers branch on Code and never on payload shape.
package code

import "net/http"

// Code is a catalog entry identifier.
type Code int

const (
	Success                    Code = 700
	UploadSuccess              Code = 701
	ProcessRunning             Code = 702
	ProcessRunningInBackground Code = 703
	ProcessDone                Code = 704
	ProcessNotYetRunning       Code = 705
	ProcessPending             Code = 706
	ProcessWaiting             Code = 707

	Unknown          Code = 500
	ProcessFailed    Code = 501
	UploadFailed     Code = 502
	ServerIsBusy     Code = 503
	InvalidID        Code = 510
	InvalidTask      Code = 511
	InvalidKey       Code = 512
	FileNotFound     Code = 513
	InvalidAudio     Code = 520
	TaskNotSupported Code = 521
	InputIsEmpty     Code = 522
)

var messages = map[Code]string{
	Success:                    "Success",
	UploadSuccess:              "Upload success",
	ProcessRunning:             "Process is running",
	ProcessRunningInBackground: "Process is running in the background",
	ProcessDone:                "Process is done",
	ProcessNotYetRunning:       "Process is not yet running",
	ProcessPending:             "Process is pending",
	ProcessWaiting:             "Process is waiting",

	Unknown:          "Unknown error",
	ProcessFailed:    "Process failed",
	UploadFailed:     "Upload failed",
	ServerIsBusy:     "Server is busy",
	InvalidID:        "Invalid ID",
	InvalidTask:      "Invalid task",
	InvalidKey:       "Invalid key",
	FileNotFound:     "File not found",
	InvalidAudio:     "Invalid audio",
	TaskNotSupported: "Task not supported",
	InputIsEmpty:     "Input is empty",
}

// httpStatuses maps error codes to the HTTP status the API answers with.
// Codes not listed fall back on the band default.
var httpStatuses = map[Code]int{
	Unknown:          http.StatusInternalServerError,
	ServerIsBusy:     http.StatusServiceUnavailable,
	InvalidID:        http.StatusBadRequest,
	InvalidTask:      http.StatusBadRequest,
	InvalidKey:       http.StatusForbidden,
	FileNotFound:     http.StatusNotFound,
	InvalidAudio:     http.StatusUnprocessableEntity,
	TaskNotSupported: http.StatusBadRequest,
	InputIsEmpty:     http.StatusBadRequest,
}

// Response is the uniform {code, message, content} payload.
type Response struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Content map[string]any `json:"content"`
}

// Message returns the default message of c.
func (c Code) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[Unknown]
}

// Known reports whether c is in the catalog.
func (c Code) Known() bool {
	_, ok := messages[c]
	return ok
}

// IsError reports whether c belongs to the error band.
func (c Code) IsError() bool {
	return c >= 500 && c < 600
}

// HTTPStatus is the transport status used when c is written by the API.
// Pipeline failures are reported with 200, as the body already carries the
// error code.
func (c Code) HTTPStatus() int {
	if s, ok := httpStatuses[c]; ok {
		return s
	}
	return http.StatusOK
}

// New builds a Response carrying the default message of c.
func (c Code) New(content map[string]any) Response {
	if content == nil {
		content = map[string]any{}
	}
	return Response{Code: c, Message: c.Message(), Content: content}
}

// IsError reports whether r carries an error-band code.
func (r Response) IsError() bool {
	return r.Code.IsError()
}
