// Package errors provides the error helpers and the error taxonomy shared by
// backup and restore. Messages are built with github.com/pkg/errors, matching
// goes through the standard library.
package errors

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

var (
	New    = errors.New
	Errorf = errors.Errorf

	// Wrap and Wrapf return nil for a nil err.
	Wrap  = errors.Wrap
	Wrapf = errors.Wrapf
)

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

func Is(err, target error) bool { return stderrors.Is(err, target) }
