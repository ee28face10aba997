// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package cloud

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/zeebo/errs"
)

var (
	// Error is the default cloud errs class, used for SDK level failures.
	Error = errs.Class("cloud")

	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errs.Class("cloud: not found")

	// ErrIncrementalWithoutFull is returned when an incremental backup is
	// requested for a volume that has no full backup.
	ErrIncrementalWithoutFull = errs.Class("cloud: incremental backup without full backup")

	// ErrIncrementalDependency is returned when deleting a backup that
	// incremental backups depend on.
	ErrIncrementalDependency = errs.Class("cloud: incremental backups depend on backup")

	// ErrInvalidConfig is returned when the cloud configuration is invalid.
	ErrInvalidConfig = errs.Class("cloud: invalid config")
)

// HTTPError is a provider API failure with a status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (err *HTTPError) Error() string {
	return fmt.Sprintf("http %d %s: %s", err.StatusCode, http.StatusText(err.StatusCode), err.Message)
}

// AsHTTPError returns the HTTPError in the chain of err.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// IsUnauthorized reports whether err is an authorization failure that
// requires reconnecting.
func IsUnauthorized(err error) bool {
	httpErr, ok := AsHTTPError(err)
	return ok && (httpErr.StatusCode == http.StatusForbidden || httpErr.StatusCode == http.StatusUnauthorized)
}

// IsNotFound reports whether err means the resource does not exist.
func IsNotFound(err error) bool {
	if ErrNotFound.Has(err) {
		return true
	}
	httpErr, ok := AsHTTPError(err)
	return ok && httpErr.StatusCode == http.StatusNotFound
}

// Provider messages recognised as domain errors.
const (
	incrementalWithoutFullMessage = "No backups available to do an incremental backup"
	incrementalDependencyMessage  = "Incremental backups exist for this backup"
	creatingBackupMessage         = "Error in creating volume backup"
)

var backupIDPattern = regexp.MustCompile(creatingBackupMessage + ` ([0-9A-Za-z-]+)`)

// ClassifyMessage wraps err into a domain class when the provider message
// identifies one.
func ClassifyMessage(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, incrementalWithoutFullMessage):
		return ErrIncrementalWithoutFull.Wrap(err)
	case strings.Contains(msg, incrementalDependencyMessage):
		return ErrIncrementalDependency.Wrap(err)
	default:
		return err
	}
}

// BackupIDFromError recovers the id of a backup whose creation failed after
// the provider already allocated it.
func BackupIDFromError(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	match := backupIDPattern.FindStringSubmatch(err.Error())
	if match == nil {
		return "", false
	}
	return match[1], true
}
