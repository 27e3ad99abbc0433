package acme

import "fmt"

// AcmeError reports a certbot invocation that failed or timed out.
type AcmeError struct {
	CertID  uint
	Command string
	Output  string
	Err     error
}

func (e *AcmeError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("acme certificate #%d (%s): %v: %s", e.CertID, e.Command, e.Err, e.Output)
	}
	return fmt.Sprintf("acme certificate #%d (%s): %v", e.CertID, e.Command, e.Err)
}

func (e *AcmeError) Unwrap() error { return e.Err }

// NotFoundError reports certificate material missing from disk. Callers treat it
// like an AcmeError.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("certificate file %s not found", e.Path)
}

func (e *NotFoundError) Unwrap() error { return e.Err }
