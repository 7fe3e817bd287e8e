package soundtouch

import "errors"

// Domain errors for the soundtouch package.
//
// The first three form the protocol-error family: any of them means the
// exchange with the device failed and the operation can be retried on the
// next poll cycle. ErrIdentityUnresolved is a sequencing error by the caller
// and is never retried automatically.
var (
	// ErrRequestFailed is returned when the HTTP exchange with the device
	// fails (unreachable host, non-2xx status, cancelled context).
	ErrRequestFailed = errors.New("soundtouch: request failed")

	// ErrMalformedResponse is returned when a response body cannot be
	// parsed as the expected XML document.
	ErrMalformedResponse = errors.New("soundtouch: malformed response")

	// ErrDeviceFault is returned when the device answers with an <errors>
	// payload instead of the requested document.
	ErrDeviceFault = errors.New("soundtouch: device reported error")

	// ErrIdentityUnresolved is returned when a zone mutation is attempted
	// before the device identity has been fetched. Callers must resolve
	// identity first; no network I/O is performed.
	ErrIdentityUnresolved = errors.New("soundtouch: device identity not resolved")
)

// IsProtocolError reports whether err belongs to the recoverable
// protocol-error family (transport, parse, or device fault).
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrRequestFailed) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrDeviceFault)
}
