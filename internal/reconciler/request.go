package reconciler

import (
	"fmt"
	"sync/atomic"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/anvil-dev/middleware-operators/internal/zookeeper"
)

type Verb string

const (
	VerbGet          Verb = "Get"
	VerbCreate       Verb = "Create"
	VerbUpdate       Verb = "Update"
	VerbUpdateStatus Verb = "UpdateStatus"
)

// KubeRequest is a single API server call. For Get, Object is an empty object of the
// expected kind to read into. For writes it is the payload.
type KubeRequest struct {
	Verb   Verb
	Key    client.ObjectKey
	Object client.Object
	// Observed is the object an Update was computed from.
	Observed client.Object
}

// ZKRequest is a single ZooKeeper call.
type ZKRequest struct {
	Op      ExternalKind
	Target  zookeeper.Target
	Path    string
	Data    []byte
	Version int32
}

// Request is the envelope for the one call a round may have in flight. Exactly one of
// Kube and ZK is set.
type Request struct {
	ID   uint64
	Kube *KubeRequest
	ZK   *ZKRequest
}

func (r *Request) String() string {
	switch {
	case r == nil:
		return "<none>"
	case r.Kube != nil:
		return fmt.Sprintf("#%d %s %s", r.ID, r.Kube.Verb, r.Kube.Key)
	case r.ZK != nil:
		return fmt.Sprintf("#%d %s %s", r.ID, r.ZK.Op, r.ZK.Path)
	default:
		return fmt.Sprintf("#%d <empty>", r.ID)
	}
}

type KubeResponse struct {
	Verb   Verb
	Object client.Object
	Err    error
}

type ZKResponse struct {
	Op      ExternalKind
	Exists  bool
	Version int32
	Err     error
}

// Response carries the result of the request with the same ID.
type Response struct {
	ID   uint64
	Kube *KubeResponse
	ZK   *ZKResponse
}

// KubeResponseFor builds the response to a Kubernetes request.
func KubeResponseFor(req *Request, obj client.Object, err error) *Response {
	return &Response{ID: req.ID, Kube: &KubeResponse{Verb: req.Kube.Verb, Object: obj, Err: err}}
}

// ZKResponseFor builds the response to a ZooKeeper request.
func ZKResponseFor(req *Request, exists bool, version int32, err error) *Response {
	return &Response{ID: req.ID, ZK: &ZKResponse{Op: req.ZK.Op, Exists: exists, Version: version, Err: err}}
}

// answers reports whether resp is the response to r: same id and same shape.
func (r *Request) answers(resp *Response) bool {
	if r == nil || resp == nil || r.ID != resp.ID {
		return false
	}
	switch {
	case r.Kube != nil:
		return resp.Kube != nil && resp.ZK == nil && resp.Kube.Verb == r.Kube.Verb
	case r.ZK != nil:
		return resp.ZK != nil && resp.Kube == nil && resp.ZK.Op == r.ZK.Op
	}
	return false
}

// IDAllocator hands out request ids. Ids are unique and increasing for the allocator.
type IDAllocator struct {
	last atomic.Uint64
}

func (a *IDAllocator) Next() uint64 {
	return a.last.Add(1)
}

// ProcessIDs is shared by every machine in the process.
var ProcessIDs = &IDAllocator{}
