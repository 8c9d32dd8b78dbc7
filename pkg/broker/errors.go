package broker

import (
	pkgerrors "github.com/donlair/pubsub/pkg/errors"
)

// Error is the type every broker operation returns on failure. It is an
// alias of pkg/errors.AppError so callers can use errors.As(err, *broker.Error)
// exactly as documented. The constructors below build broker errors from
// the shared pkg/errors codes; the broker defines no codes of its own.
type Error = pkgerrors.AppError

func errNotFound(kind, name string) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, kind+" not found: "+name, nil)
}

func errAlreadyExists(kind, name string) error {
	return pkgerrors.New(pkgerrors.CodeAlreadyExists, kind+" already exists: "+name, nil)
}

func errInvalidArgument(msg string) error {
	return pkgerrors.New(pkgerrors.CodeInvalidArgument, msg, nil)
}

func errFailedPrecondition(msg string) error {
	return pkgerrors.New(pkgerrors.CodeFailedPrecondition, msg, nil)
}
