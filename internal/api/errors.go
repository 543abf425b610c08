package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure across process boundaries.
type Code string

const (
	CodeInvalidProof                  Code = "invalid_proof"
	CodeBindingMismatch               Code = "binding_mismatch"
	CodeInsufficientCommittee         Code = "insufficient_committee"
	CodeSessionNotFound               Code = "session_not_found"
	CodeSessionAlreadyUsed            Code = "session_already_used"
	CodeMessageMismatch               Code = "message_mismatch"
	CodeInvalidCommitments            Code = "invalid_commitments"
	CodeAggregationVerificationFailed Code = "aggregation_verification_failed"
	CodePeerTimeout                   Code = "peer_timeout"
	CodeConfiguration                 Code = "configuration_error"
	CodeDeploymentNotFound            Code = "deployment_not_found"
	CodeDeploymentConflict            Code = "deployment_conflict"
	CodeInvalidRequest                Code = "invalid_request"
	CodeInternal                      Code = "internal_error"
)

// Error is an error carrying a stable Code.
//
// Two errors match under errors.Is when their codes are equal, so the
// sentinels below can be compared against errors decoded from the wire.
type Error struct {
	Code    Code   `json:"code" cbor:"code"`
	Message string `json:"error" cbor:"message"`
}

var (
	ErrInvalidProof                  = &Error{CodeInvalidProof, "proof does not verify"}
	ErrBindingMismatch               = &Error{CodeBindingMismatch, "public inputs do not match the transaction"}
	ErrInsufficientCommittee         = &Error{CodeInsufficientCommittee, "not enough committee members responded"}
	ErrSessionNotFound               = &Error{CodeSessionNotFound, "no open session"}
	ErrSessionAlreadyUsed            = &Error{CodeSessionAlreadyUsed, "session id already used"}
	ErrMessageMismatch               = &Error{CodeMessageMismatch, "message differs from the session's"}
	ErrInvalidCommitments            = &Error{CodeInvalidCommitments, "invalid commitment list"}
	ErrAggregationVerificationFailed = &Error{CodeAggregationVerificationFailed, "aggregated signature does not verify"}
	ErrPeerTimeout                   = &Error{CodePeerTimeout, "committee member timed out"}
	ErrConfiguration                 = &Error{CodeConfiguration, "invalid configuration"}
	ErrDeploymentNotFound            = &Error{CodeDeploymentNotFound, "deployment not found"}
	ErrDeploymentConflict            = &Error{CodeDeploymentConflict, "a different deployment is registered for this txid"}
	ErrInvalidRequest                = &Error{CodeInvalidRequest, "invalid request"}
	ErrInternal                      = &Error{CodeInternal, "internal error"}
)

// Error implements error.
func (e *Error) Error() string {
	return e.Message
}

// Is implements the interface used by errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errorf returns a new error with the code of base, and a message made of
// base's message followed by the formatted details.
func Errorf(base *Error, format string, args ...interface{}) error {
	return &Error{
		Code:    base.Code,
		Message: base.Message + ": " + fmt.Sprintf(format, args...),
	}
}

// Wrap is like Errorf, but appends err's message instead.
func Wrap(base *Error, err error) error {
	if err == nil {
		return base
	}
	return &Error{Code: base.Code, Message: base.Message + ": " + err.Error()}
}

// CodeOf returns the code carried by err, or CodeInternal if it carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// AsError converts err to an *Error, using CodeInternal when err carries no code.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}

// HTTPStatus maps a code to the status used in responses.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeSessionNotFound, CodeDeploymentNotFound:
		return http.StatusNotFound
	case CodeSessionAlreadyUsed, CodeMessageMismatch, CodeDeploymentConflict:
		return http.StatusConflict
	case CodeInvalidProof, CodeBindingMismatch, CodeInvalidCommitments, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeInsufficientCommittee, CodePeerTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
