package credload

import "fmt"

// IoError wraps a failure to read one of the three credential files.
// Recoverable: the next watcher tick retries.
type IoError struct {
	Path  string
	Cause error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("reading %s: %s", e.Path, e.Cause)
}

func (e *IoError) Unwrap() error { return e.Cause }

// TrustAnchorsError reports that the trust-anchors file is empty, not PEM,
// or contains a certificate that failed to parse. Recoverable: an
// administrator fixes the file and the next tick retries.
type TrustAnchorsError struct {
	Detail string
	Cause  error
}

func (e *TrustAnchorsError) Error() string {
	if e.Detail == "" {
		return "failed to parse trust anchors"
	}
	return fmt.Sprintf("failed to parse trust anchors: %s", e.Detail)
}

func (e *TrustAnchorsError) Unwrap() error { return e.Cause }

// EndEntityCertError reports that the leaf certificate failed syntactic
// parsing or did not validate against the configured trust anchors.
// Recoverable.
type EndEntityCertError struct {
	Detail string
	Cause  error
}

func (e *EndEntityCertError) Error() string {
	return fmt.Sprintf("end-entity certificate is not valid: %s", e.Detail)
}

func (e *EndEntityCertError) Unwrap() error { return e.Cause }

// InvalidPrivateKeyError reports that the private key is unparseable, or
// that it does not match the leaf certificate's public key. Recoverable.
type InvalidPrivateKeyError struct {
	Detail string
	Cause  error
}

func (e *InvalidPrivateKeyError) Error() string {
	if e.Detail == "" {
		return "invalid private key"
	}
	return fmt.Sprintf("invalid private key: %s", e.Detail)
}

func (e *InvalidPrivateKeyError) Unwrap() error { return e.Cause }

// TimeConversionError reports that the wall-clock value used for path
// validation could not be normalized. Recoverable, and essentially never
// fires on a healthy host.
type TimeConversionError struct {
	Detail string
}

func (e *TimeConversionError) Error() string {
	return fmt.Sprintf("time conversion failed: %s", e.Detail)
}
