package nginx

import "fmt"

// ConfigError reports generated config that could not be rendered or that the
// webserver rejected during a syntax test.
type ConfigError struct {
	Op     string // render, challenge, default, write, test
	ID     uint   // host or certificate id, zero when not applicable
	Output string // webserver output for failed tests
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "nginx " + e.Op
	if e.ID != 0 {
		msg = fmt.Sprintf("%s #%d", msg, e.ID)
	}
	if e.Output != "" {
		return fmt.Sprintf("%s: %v: %s", msg, e.Err, e.Output)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ReloadError reports a reload that was refused or failed. The running
// webserver keeps serving its previously loaded configuration.
type ReloadError struct {
	Command string
	Output  string
	Err     error
}

func (e *ReloadError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("nginx reload (%s): %v: %s", e.Command, e.Err, e.Output)
	}
	return fmt.Sprintf("nginx reload (%s): %v", e.Command, e.Err)
}

func (e *ReloadError) Unwrap() error { return e.Err }
