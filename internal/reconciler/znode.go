package reconciler

import (
	"path"

	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/anvil-dev/middleware-operators/internal/zookeeper"
)

// ZNodeStage publishes a value into a ZooKeeper node before the workload is rolled.
//
// It first reads the workload (Probe) and refuses to touch ZooKeeper on behalf of a
// workload controlled by someone else. Then:
//
//	Exists(path)
//	  found:   SetData(path, data, version)
//	  missing: Create(parent) (AlreadyExists is fine), then Create(path, data)
type ZNodeStage[T client.Object] struct {
	Probe    Tag
	ProbeKey func(cr T) client.ObjectKey
	New      func() client.Object
	Owner    func(cr T) metav1.OwnerReference

	Target func(cr T) zookeeper.Target
	Path   func(cr T) string
	Data   func(cr T) []byte
}

var _ Stage[client.Object] = &ZNodeStage[client.Object]{}

func (s *ZNodeStage[T]) Begin(cr T, _ *State) (Step, *Request, error) {
	return AfterStep(ActionGet, s.Probe), &Request{Kube: &KubeRequest{
		Verb:   VerbGet,
		Key:    s.ProbeKey(cr),
		Object: s.New(),
	}}, nil
}

func (s *ZNodeStage[T]) Resume(cr T, st *State, resp *Response) (Step, *Request, bool, error) {
	p := s.Path(cr)
	switch st.Step.Phase {
	case PhaseAfterStep:
		if err := resp.Kube.Err; err != nil && KindOf(err) != ObjectNotFound {
			return Step{}, nil, false, errors.Wrapf(err, "probing %s", s.Probe)
		}
		if resp.Kube.Err == nil {
			if isNil(resp.Kube.Object) {
				return Step{}, nil, false, errors.Wrapf(ErrResponseMismatch, "%s response has no object", s.Probe)
			}
			if !IsControlledBy(resp.Kube.Object, s.Owner(cr)) {
				return Step{}, nil, false, errors.Wrapf(ErrForeignOwner, "%s %s", s.Probe, s.ProbeKey(cr))
			}
		}
		return s.request(cr, ExternalExists, p, nil, 0)
	}

	zkResp := resp.ZK
	switch st.Step.External {
	case ExternalExists:
		if zkResp.Err != nil {
			return Step{}, nil, false, errors.Wrapf(zkResp.Err, "checking znode %s", p)
		}
		if zkResp.Exists {
			return s.request(cr, ExternalSetData, p, s.Data(cr), zkResp.Version)
		}
		return s.request(cr, ExternalCreateParent, path.Dir(p), []byte{}, 0)
	case ExternalCreateParent:
		if zkResp.Err != nil && KindOf(zkResp.Err) != ZKNodeCreateAlreadyExists {
			return Step{}, nil, false, errors.Wrapf(zkResp.Err, "creating znode %s", path.Dir(p))
		}
		return s.request(cr, ExternalCreate, p, s.Data(cr), 0)
	case ExternalCreate:
		if zkResp.Err != nil {
			return Step{}, nil, false, errors.Wrapf(zkResp.Err, "creating znode %s", p)
		}
		return Step{}, nil, true, nil
	case ExternalSetData:
		if zkResp.Err != nil {
			return Step{}, nil, false, errors.Wrapf(zkResp.Err, "setting znode %s", p)
		}
		return Step{}, nil, true, nil
	}
	return Step{}, nil, false, errors.Errorf("znode stage cannot resume %s", st.Step)
}

func (s *ZNodeStage[T]) request(cr T, op ExternalKind, p string, data []byte, version int32) (Step, *Request, bool, error) {
	return AfterExternal(op), &Request{ZK: &ZKRequest{
		Op:      op,
		Target:  s.Target(cr),
		Path:    p,
		Data:    data,
		Version: version,
	}}, false, nil
}
