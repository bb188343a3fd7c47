package clientchannel

import (
	"errors"

	"github.com/joeycumines/go-clientchannel/internal/chanerrors"
)

// ShutdownError is the sticky terminal error recorded on the first
// disconnect-with-SHUTDOWN-intent op. Every call issued
// afterward fails with exactly this error.
type ShutdownError = chanerrors.ShutdownError

// NewShutdownStatus converts a ShutdownError into its terminal status
// error.
func NewShutdownStatus(e *ShutdownError) error {
	return chanerrors.NewShutdownStatus(e)
}

// IsDrop reports whether err is an unmaskable LB drop outcome:
// wait_for_ready must never convert a drop into continued queueing.
func IsDrop(err error) bool {
	return chanerrors.IsDrop(err)
}

var (
	errChannelNotQuiescent = errors.New("clientchannel: Destroy requires the channel to be SHUTDOWN or IDLE")
	errPingNotReady        = errors.New("clientchannel: Ping requires the channel to be READY with a connected subchannel")
	errPingFailed          = errors.New("clientchannel: Ping pick did not complete")
)
