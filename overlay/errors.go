package overlay

import "errors"

var (
	// ErrPathUnknown is returned when no path to a destination is known.
	ErrPathUnknown = errors.New("path unknown")

	// ErrLinkEstablishment is returned when a link could not be brought up.
	ErrLinkEstablishment = errors.New("link establishment failed")

	// ErrLinkClosed is returned for operations on a closed link.
	ErrLinkClosed = errors.New("link closed")

	// ErrRequestTimeout is delivered to failure callbacks when no response
	// arrived within the request timeout.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrRequestFailed is delivered to failure callbacks when the remote
	// handler reported an error.
	ErrRequestFailed = errors.New("request failed")

	// ErrNoPeers is returned by RequestPath when the transport has neither
	// peers nor a multicast group to ask.
	ErrNoPeers = errors.New("no peers or multicast group configured")

	// ErrFrameTooLarge is returned when a frame would exceed MaxFrameSize.
	// Nothing is written and the link stays up.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrTransportClosed is returned after Close.
	ErrTransportClosed = errors.New("transport closed")
)
