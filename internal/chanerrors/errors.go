// Package chanerrors centralizes the error-kind and status-remapping rules
// used by the client channel dispatch core.
package chanerrors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Remap rewrites illegal gRPC status codes (OK, INVALID_ARGUMENT) reported by
// a resolver or LB policy into UNAVAILABLE, prefixing the message so the
// origin of the rewrite is diagnosable. Legal codes pass through unchanged.
func Remap(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return status.Error(codes.Unavailable, err.Error())
	}
	switch st.Code() {
	case codes.OK, codes.InvalidArgument:
		return status.Errorf(codes.Unavailable, "illegal status from resolver or LB policy (code %s): %s", st.Code(), st.Message())
	default:
		return err
	}
}

// ResolverTransientFailure builds the status a non-wait-for-ready call fails
// with while the resolver is in transient failure and no LB policy masks it.
func ResolverTransientFailure(err error) error {
	return Remap(status.Errorf(codes.Unavailable, "name resolution failure: %v", err))
}

// ShutdownError is the sticky terminal error recorded on the first
// disconnect-with-SHUTDOWN-intent op. Every call issued afterward fails with
// exactly this error.
type ShutdownError struct {
	Cause error
}

func (e *ShutdownError) Error() string {
	if e.Cause == nil {
		return "clientchannel: channel is shutdown"
	}
	return fmt.Sprintf("clientchannel: channel is shutdown: %v", e.Cause)
}

func (e *ShutdownError) Unwrap() error { return e.Cause }

// NewShutdownStatus converts a ShutdownError into a status error with code
// UNAVAILABLE, the canonical code for "this channel can never make progress
// again".
func NewShutdownStatus(e *ShutdownError) error {
	return status.Error(codes.Unavailable, e.Error())
}

// Drop marks a status as an unmaskable LB drop outcome:
// wait_for_ready must never convert a drop into continued queueing.
type Drop struct {
	Status error
}

func (d *Drop) Error() string { return d.Status.Error() }
func (d *Drop) Unwrap() error { return d.Status }

// IsDrop reports whether err (or something it wraps) is a Drop.
func IsDrop(err error) bool {
	var d *Drop
	return errors.As(err, &d)
}
