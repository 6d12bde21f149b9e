package reconciler

import (
	"github.com/pkg/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// SubResource reconciles one owned object with get, then create or update.
// O is the object kind, e.g. *corev1.Service.
type SubResource[T client.Object, O client.Object] struct {
	Tag Tag
	// New returns an empty object to read into.
	New func() O
	Key func(cr T) client.ObjectKey
	// Make builds the desired object from scratch.
	Make func(cr T, st *State) (O, error)
	// Update returns observed with the controller-owned fields overwritten. It receives a
	// copy it may modify, and refuses objects the resource does not control.
	Update func(cr T, st *State, observed O) (O, error)
	// AfterCreate and AfterUpdate may write threaded data from the object returned by
	// the API server. Both are optional.
	AfterCreate func(cr T, st *State, created O) error
	AfterUpdate func(cr T, st *State, updated O) error

	// ReadOnly objects are only read: absence is an error and nothing is written.
	ReadOnly bool
	// AfterGet is called with the object read by a ReadOnly sub-resource.
	AfterGet func(cr T, st *State, observed O) error
}

var _ Stage[client.Object] = &SubResource[client.Object, client.Object]{}

func (s *SubResource[T, O]) Begin(cr T, _ *State) (Step, *Request, error) {
	return AfterStep(ActionGet, s.Tag), &Request{Kube: &KubeRequest{
		Verb:   VerbGet,
		Key:    s.Key(cr),
		Object: s.New(),
	}}, nil
}

func (s *SubResource[T, O]) Resume(cr T, st *State, resp *Response) (Step, *Request, bool, error) {
	switch st.Step.Action {
	case ActionGet:
		return s.afterGet(cr, st, resp.Kube)
	case ActionCreate:
		if resp.Kube.Err != nil {
			return Step{}, nil, false, errors.Wrapf(resp.Kube.Err, "creating %s", s.Tag)
		}
		created, err := s.object(resp.Kube)
		if err != nil {
			return Step{}, nil, false, err
		}
		if s.AfterCreate != nil {
			if err := s.AfterCreate(cr, st, created); err != nil {
				return Step{}, nil, false, err
			}
		}
		return Step{}, nil, true, nil
	case ActionUpdate:
		if resp.Kube.Err != nil {
			return Step{}, nil, false, errors.Wrapf(resp.Kube.Err, "updating %s", s.Tag)
		}
		updated, err := s.object(resp.Kube)
		if err != nil {
			return Step{}, nil, false, err
		}
		if s.AfterUpdate != nil {
			if err := s.AfterUpdate(cr, st, updated); err != nil {
				return Step{}, nil, false, err
			}
		}
		return Step{}, nil, true, nil
	}
	return Step{}, nil, false, errors.Errorf("%s cannot resume %s", s.Tag, st.Step)
}

func (s *SubResource[T, O]) afterGet(cr T, st *State, resp *KubeResponse) (Step, *Request, bool, error) {
	key := s.Key(cr)
	if resp.Err != nil {
		if KindOf(resp.Err) != ObjectNotFound {
			return Step{}, nil, false, errors.Wrapf(resp.Err, "getting %s %s", s.Tag, key)
		}
		if s.ReadOnly {
			return Step{}, nil, false, errors.Wrapf(ErrPreconditionNotFound, "%s %s", s.Tag, key)
		}
		desired, err := s.Make(cr, st)
		if err != nil {
			return Step{}, nil, false, errors.Wrapf(err, "making %s", s.Tag)
		}
		return AfterStep(ActionCreate, s.Tag), &Request{Kube: &KubeRequest{
			Verb:   VerbCreate,
			Key:    key,
			Object: desired,
		}}, false, nil
	}

	observed, err := s.object(resp)
	if err != nil {
		return Step{}, nil, false, err
	}
	if s.ReadOnly {
		if s.AfterGet != nil {
			if err := s.AfterGet(cr, st, observed); err != nil {
				return Step{}, nil, false, err
			}
		}
		return Step{}, nil, true, nil
	}
	desired, err := s.Update(cr, st, observed.DeepCopyObject().(O))
	if err != nil {
		return Step{}, nil, false, errors.Wrapf(err, "updating %s", s.Tag)
	}
	return AfterStep(ActionUpdate, s.Tag), &Request{Kube: &KubeRequest{
		Verb:     VerbUpdate,
		Key:      key,
		Object:   desired,
		Observed: observed,
	}}, false, nil
}

func (s *SubResource[T, O]) object(resp *KubeResponse) (O, error) {
	obj, ok := resp.Object.(O)
	if !ok || isNil(resp.Object) {
		var zero O
		return zero, errors.Wrapf(ErrResponseMismatch, "%s response carries %T", s.Tag, resp.Object)
	}
	return obj, nil
}
