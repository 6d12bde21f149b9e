package reconciler

import (
	"github.com/pkg/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/anvil-dev/middleware-operators/internal/zookeeper"
)

var (
	// ErrResponseMismatch is a response that does not answer the pending request.
	ErrResponseMismatch = errors.New("response does not match the pending request")
	// ErrForeignOwner is an existing object that is not controlled by the resource.
	ErrForeignOwner = errors.New("object is not controlled by this resource")
	// ErrMissingSlot is a builder that needs data an earlier step did not thread through.
	ErrMissingSlot = errors.New("required threaded data is missing")
	// ErrPreconditionNotFound is a required object the operator does not own that is absent.
	ErrPreconditionNotFound = errors.New("required object not found")
)

type ErrorKind string

const (
	ObjectNotFound            ErrorKind = "ObjectNotFound"
	Conflict                  ErrorKind = "Conflict"
	Invalid                   ErrorKind = "Invalid"
	Forbidden                 ErrorKind = "Forbidden"
	Other                     ErrorKind = "Other"
	ZKNodeCreateAlreadyExists ErrorKind = "ZKNodeCreateAlreadyExists"
)

// KindOf classifies an error returned by the API server or ZooKeeper. It returns "" for nil.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case apierrors.IsNotFound(err):
		return ObjectNotFound
	case apierrors.IsConflict(err):
		return Conflict
	case apierrors.IsInvalid(err):
		return Invalid
	case apierrors.IsForbidden(err):
		return Forbidden
	case errors.Is(err, zookeeper.ErrNodeExists):
		return ZKNodeCreateAlreadyExists
	default:
		return Other
	}
}
