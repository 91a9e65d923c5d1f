/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package runner

import "errors"

// ErrorCode is reported in the response of failed actions.
type ErrorCode int

const (
	CodeActionNotFound                 ErrorCode = 1
	CodeNotExternalAction              ErrorCode = 2
	CodeEventParamsInstantiationFailed ErrorCode = 3
	CodeEventInstantiationFailed       ErrorCode = 4
	CodeActionNotRegistered            ErrorCode = 5
	CodeExecutionEventMismatch         ErrorCode = 6
	CodeParamsInstantiationFailed      ErrorCode = 7
	CodeActionUnexpectedError          ErrorCode = 8
)

var codeNames = map[ErrorCode]string{
	CodeActionNotFound:                 "ACTION_NOT_FOUND",
	CodeNotExternalAction:              "NOT_EXTERNAL_ACTION",
	CodeEventParamsInstantiationFailed: "EVENT_PARAMS_INSTANTIATION_FAILED",
	CodeEventInstantiationFailed:       "EVENT_INSTANTIATION_FAILED",
	CodeActionNotRegistered:            "ACTION_NOT_REGISTERED",
	CodeExecutionEventMismatch:         "EXECUTION_EVENT_MISMATCH",
	CodeParamsInstantiationFailed:      "PARAMS_INSTANTIATION_FAILED",
	CodeActionUnexpectedError:          "ACTION_UNEXPECTED_ERROR",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// ErrSinkNotFound is logged when a finding names a sink that is not configured.
var ErrSinkNotFound = errors.New("sink not found")

// errorResponse is the response of a failed action or external request.
func errorResponse(code ErrorCode, msg string) map[string]any {
	return map[string]any{"success": false, "msg": msg, "error_code": int(code)}
}

// ResponseCode returns the error code of a response, or 0 for successful
// and code-less responses.
func ResponseCode(resp map[string]any) ErrorCode {
	switch v := resp["error_code"].(type) {
	case int:
		return ErrorCode(v)
	case ErrorCode:
		return v
	case float64:
		return ErrorCode(v)
	}
	return 0
}

// Succeeded reports whether resp marks success.
func Succeeded(resp map[string]any) bool {
	ok, _ := resp["success"].(bool)
	return ok
}
