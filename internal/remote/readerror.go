package remote

import (
	"errors"
	"fmt"
)

// ReadError is returned by log readers when the source could not be read.
// It names what an operator should check.
// PathEnvVar names the setting that supplied Path when it differs from EnvVar.
type ReadError struct {
	Kind       string
	Host       string
	Path       string
	EnvVar     string
	PathEnvVar string
	Err        error
}

func (e *ReadError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("read %s log %s on %s: %v", e.Kind, e.Path, e.Host, e.Err)
	}
	return fmt.Sprintf("read %s log %s: %v", e.Kind, e.Path, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Hint is a human readable remediation for dashboards.
func (e *ReadError) Hint() string {
	if errors.Is(e.Err, ErrFileMissing) {
		where := "on the API host"
		if e.Host != "" {
			where = "on " + e.Host
		}
		return fmt.Sprintf("%s does not exist %s; fix the path in %s or create the file", e.Path, where, e.pathSource())
	}
	if e.Host != "" {
		return fmt.Sprintf("check that %s is reachable over non-interactive SSH (key auth, BatchMode) and that %s exists; the host comes from %s", e.Host, e.Path, e.EnvVar)
	}
	return fmt.Sprintf("check that %s is readable by the API process; the path comes from %s", e.Path, e.EnvVar)
}

func (e *ReadError) pathSource() string {
	if e.PathEnvVar != "" {
		return e.PathEnvVar
	}
	return e.EnvVar
}
