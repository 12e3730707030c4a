// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package resource holds the data model and error taxonomy shared by every
// layer of the resource manager: meta/revision/blob stores, the condition
// query model, and the manager itself.
package resource

import (
	"errors"
	"fmt"
)

// Kind is a stable, surface-visible error identifier. HTTP or RPC front ends
// map a Kind to a status code without string-matching error text.
type Kind string

// the error taxonomy. See spec section 7 of the design docs.
const (
	KindResourceIDNotFound Kind = "ResourceIDNotFound"
	KindRevisionIDNotFound Kind = "RevisionIDNotFound"
	KindResourceIsDeleted  Kind = "ResourceIsDeleted"
	KindSchemaConflict     Kind = "SchemaConflict"
	KindValidationError    Kind = "ValidationError"
	KindPermissionDenied   Kind = "PermissionDenied"
	KindBlobNotFound       Kind = "BlobNotFound"
	KindPatchApplyFailed   Kind = "PatchApplyFailed"
	KindS3Conflict         Kind = "S3Conflict"
	KindQueryParseError    Kind = "QueryParseError"
	KindMigrationNotConfigured Kind = "MigrationNotConfigured"
	KindNoActorInScope     Kind = "NoActorInScope"
)

// Error is the error type returned by every guarded operation in this module.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, resource.NewError(Kind,...)) style comparisons by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds an *Error of the given kind.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind, wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err, or "" if err is not one of ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
