package reconciler

import (
	"sort"
	"sync"
	"testing"

	petname "github.com/dustinkirkland/golang-petname"
	fuzz "github.com/google/gofuzz"
	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

func newTestMachine(stages ...Stage[owner]) *Machine[owner] {
	return &Machine[owner]{Stages: stages, IDs: &IDAllocator{}}
}

func TestMachine_ColdStart(t *testing.T) {
	m := newTestMachine(serviceStage(), configStage(), statusStage())
	cr := newOwner("cr1")

	st, req := respond(t, m, cr, m.Init(cr), nil)
	assert.True(t, AfterStep(ActionGet, tagService).Equal(st.Step), st.Step.String())
	assert.Equal(t, VerbGet, req.Kube.Verb)
	assert.Equal(t, "cr1-svc", req.Kube.Key.Name)

	st, req = respond(t, m, cr, st, KubeResponseFor(req, nil, notFound("services", "cr1-svc")))
	assert.True(t, AfterStep(ActionCreate, tagService).Equal(st.Step), st.Step.String())
	require.Equal(t, VerbCreate, req.Kube.Verb)
	svc := req.Kube.Object.(*corev1.Service)
	assert.Equal(t, []metav1.OwnerReference{ownerRef(cr)}, svc.OwnerReferences)
	assert.Equal(t, "cr1", svc.Labels["app"])

	st, req = respond(t, m, cr, st, created(req, "1"))
	assert.True(t, AfterStep(ActionGet, tagConfig).Equal(st.Step), st.Step.String())

	st, req = respond(t, m, cr, st, KubeResponseFor(req, nil, notFound("configmaps", "cr1-config")))
	assert.True(t, AfterStep(ActionCreate, tagConfig).Equal(st.Step), st.Step.String())

	st, req = respond(t, m, cr, st, created(req, "42"))
	require.NotNil(t, st.Threaded.LatestConfigMapRV)
	assert.Equal(t, "42", *st.Threaded.LatestConfigMapRV)
	assert.Equal(t, PhaseAfterUpdateStatus, st.Step.Phase)
	require.Equal(t, VerbUpdateStatus, req.Kube.Verb)
	assert.Equal(t, "42", req.Kube.Object.(*corev1.ConfigMap).Data["rv"])

	st, req = m.Step(cr, KubeResponseFor(req, req.Kube.Object, nil), st)
	assert.Nil(t, req)
	assert.True(t, Done(st))
	assert.Nil(t, st.Pending)
}

func TestMachine_UpdateAdoptsManagedMetadata(t *testing.T) {
	m := newTestMachine(serviceStage())
	cr := newOwner("cr1")

	st, req := respond(t, m, cr, m.Init(cr), nil)
	existing := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:            "cr1-svc",
			Namespace:       "ns1",
			ResourceVersion: "7",
			OwnerReferences: []metav1.OwnerReference{ownerRef(cr)},
			Labels:          map[string]string{"stale": "label"},
			Finalizers:      []string{"example.com/finalizer"},
		},
		Spec: corev1.ServiceSpec{ClusterIP: "10.0.0.1"},
	}
	st, req = respond(t, m, cr, st, KubeResponseFor(req, existing, nil))
	assert.True(t, AfterStep(ActionUpdate, tagService).Equal(st.Step), st.Step.String())
	require.Equal(t, VerbUpdate, req.Kube.Verb)

	updated := req.Kube.Object.(*corev1.Service)
	assert.Equal(t, map[string]string{"app": "cr1"}, updated.Labels)
	assert.Empty(t, updated.Finalizers)
	assert.Equal(t, "7", updated.ResourceVersion, "the update must carry the observed resource version")
	assert.Equal(t, "10.0.0.1", updated.Spec.ClusterIP)
	assert.Len(t, updated.Spec.Ports, 1)
	assert.Equal(t, existing, req.Kube.Observed, "the observed object must not be modified")

	st, req = m.Step(cr, created(req, "8"), st)
	assert.Nil(t, req)
	assert.True(t, Done(st))
}

func TestMachine_ForeignOwnerRefused(t *testing.T) {
	tests := map[string][]metav1.OwnerReference{
		"Foreign":        {foreignRef()},
		"NoOwner":        nil,
		"NotController":  {nonControllerRef(newOwner("cr1"))},
		"ForeignAndOurs": {foreignRef(), nonControllerRef(newOwner("cr1"))},
	}
	for title, refs := range tests {
		t.Run(title, func(t *testing.T) {
			m := newTestMachine(serviceStage(), configStage())
			cr := newOwner("cr1")
			st, req := respond(t, m, cr, m.Init(cr), nil)
			existing := &corev1.Service{ObjectMeta: metav1.ObjectMeta{
				Name:            "cr1-svc",
				Namespace:       "ns1",
				OwnerReferences: refs,
			}}
			st, req = m.Step(cr, KubeResponseFor(req, existing, nil), st)
			assert.Nil(t, req, "no update may be issued")
			assert.True(t, Error(st))
			assert.True(t, errors.Is(st.Err, ErrForeignOwner), st.Err)
		})
	}
}

func nonControllerRef(cr owner) metav1.OwnerReference {
	ref := ownerRef(cr)
	ref.Controller = nil
	return ref
}

func TestMachine_RequestErrors(t *testing.T) {
	forbidden := apierrors.NewForbidden(schema.GroupResource{Resource: "services"}, "cr1-svc", errors.New("denied"))
	tests := map[string]struct {
		// answer returns the response to the n-th request of the round.
		answer func(n int, req *Request) *Response
	}{
		"GetForbidden": {
			answer: func(n int, req *Request) *Response {
				return KubeResponseFor(req, nil, forbidden)
			},
		},
		"CreateConflict": {
			answer: func(n int, req *Request) *Response {
				if n == 0 {
					return KubeResponseFor(req, nil, notFound("services", "cr1-svc"))
				}
				return KubeResponseFor(req, nil, apierrors.NewAlreadyExists(schema.GroupResource{Resource: "services"}, "cr1-svc"))
			},
		},
		"UpdateConflict": {
			answer: func(n int, req *Request) *Response {
				if n == 0 {
					return KubeResponseFor(req, &corev1.Service{ObjectMeta: metaFor(newOwner("cr1"), "cr1-svc")}, nil)
				}
				return KubeResponseFor(req, nil, apierrors.NewConflict(schema.GroupResource{Resource: "services"}, "cr1-svc", errors.New("stale")))
			},
		},
	}
	for title, tc := range tests {
		t.Run(title, func(t *testing.T) {
			m := newTestMachine(serviceStage(), configStage())
			cr := newOwner("cr1")
			st, req := m.Step(cr, nil, m.Init(cr))
			for n := 0; req != nil; n++ {
				require.Less(t, n, 3)
				st, req = m.Step(cr, tc.answer(n, req), st)
			}
			assert.True(t, Error(st))
			assert.Error(t, st.Err)
		})
	}
}

func TestMachine_ResponseMismatch(t *testing.T) {
	tests := map[string]func(req *Request) *Response{
		"WrongID": func(req *Request) *Response {
			resp := KubeResponseFor(req, nil, notFound("services", "cr1-svc"))
			resp.ID = req.ID + 1
			return resp
		},
		"WrongVerb": func(req *Request) *Response {
			resp := KubeResponseFor(req, nil, notFound("services", "cr1-svc"))
			resp.Kube.Verb = VerbCreate
			return resp
		},
		"ZooKeeperShape": func(req *Request) *Response {
			return &Response{ID: req.ID, ZK: &ZKResponse{Op: ExternalExists}}
		},
		"Empty": func(req *Request) *Response {
			return &Response{ID: req.ID}
		},
		"Nil": func(req *Request) *Response {
			return nil
		},
	}
	for title, answer := range tests {
		t.Run(title, func(t *testing.T) {
			m := newTestMachine(serviceStage())
			cr := newOwner("cr1")
			st, req := respond(t, m, cr, m.Init(cr), nil)
			st, req = m.Step(cr, answer(req), st)
			assert.Nil(t, req)
			assert.True(t, Error(st))
			assert.True(t, errors.Is(st.Err, ErrResponseMismatch), st.Err)
		})
	}
}

func TestMachine_TypedNilObject(t *testing.T) {
	cr := newOwner("cr1")
	existingConfig := &corev1.ConfigMap{ObjectMeta: metaFor(cr, "cr1-config")}
	tests := map[string]struct {
		stage Stage[owner]
		// answers lead the stage up to the request answered with a nil object.
		answers []func(req *Request) *Response
		nilObj  client.Object
	}{
		"Get": {
			stage:  serviceStage(),
			nilObj: (*corev1.Service)(nil),
		},
		"Create": {
			stage: configStage(),
			answers: []func(req *Request) *Response{
				func(req *Request) *Response { return KubeResponseFor(req, nil, notFound("configmaps", "cr1-config")) },
			},
			nilObj: (*corev1.ConfigMap)(nil),
		},
		"Update": {
			stage: configStage(),
			answers: []func(req *Request) *Response{
				func(req *Request) *Response { return KubeResponseFor(req, existingConfig.DeepCopy(), nil) },
			},
			nilObj: (*corev1.ConfigMap)(nil),
		},
		"ZNodeProbe": {
			stage:  znodeStage(),
			nilObj: (*corev1.Secret)(nil),
		},
	}
	for title, tc := range tests {
		t.Run(title, func(t *testing.T) {
			m := newTestMachine(tc.stage)
			st, req := respond(t, m, cr, m.Init(cr), nil)
			for _, answer := range tc.answers {
				st, req = respond(t, m, cr, st, answer(req))
			}
			require.NotPanics(t, func() {
				st, req = m.Step(cr, KubeResponseFor(req, tc.nilObj, nil), st)
			})
			assert.Nil(t, req)
			assert.True(t, Error(st))
			assert.True(t, errors.Is(st.Err, ErrResponseMismatch), st.Err)
		})
	}
}

func TestMachine_ResponseBeforeFirstRequest(t *testing.T) {
	m := newTestMachine(serviceStage())
	cr := newOwner("cr1")
	st, req := m.Step(cr, &Response{ID: 1, Kube: &KubeResponse{Verb: VerbGet}}, m.Init(cr))
	assert.Nil(t, req)
	assert.True(t, errors.Is(st.Err, ErrResponseMismatch), st.Err)
}

func TestMachine_TerminalStatesAbsorb(t *testing.T) {
	m := newTestMachine(serviceStage())
	cr := newOwner("cr1")
	for _, st := range []State{
		{Step: Step{Phase: PhaseDone}},
		{Step: Step{Phase: PhaseError}, Err: errors.New("boom")},
	} {
		next, req := m.Step(cr, &Response{ID: 1, Kube: &KubeResponse{Verb: VerbGet}}, st)
		assert.Nil(t, req)
		assert.Equal(t, st, next)
	}
}

func TestMachine_EmptyPipelineIsDone(t *testing.T) {
	m := newTestMachine()
	cr := newOwner("cr1")
	st, req := m.Step(cr, nil, m.Init(cr))
	assert.Nil(t, req)
	assert.True(t, Done(st))
}

func TestMachine_MissingSlot(t *testing.T) {
	m := newTestMachine(serviceStage(), statusStage())
	cr := newOwner("cr1")
	st, req := respond(t, m, cr, m.Init(cr), nil)
	st, req = respond(t, m, cr, st, KubeResponseFor(req, nil, notFound("services", "cr1-svc")))
	st, req = m.Step(cr, created(req, "1"), st)
	assert.Nil(t, req)
	assert.True(t, errors.Is(st.Err, ErrMissingSlot), st.Err)
}

func TestMachine_ReadOnlyPrecondition(t *testing.T) {
	precondition := &SubResource[owner, *corev1.Secret]{
		Tag: "Config",
		New: func() *corev1.Secret { return &corev1.Secret{} },
		Key: func(cr owner) client.ObjectKey {
			return client.ObjectKey{Namespace: cr.Namespace, Name: "user-config"}
		},
		ReadOnly: true,
		AfterGet: func(_ owner, st *State, observed *corev1.Secret) error {
			rv := observed.ResourceVersion
			st.Threaded.LatestConfigMapRV = &rv
			return nil
		},
	}

	t.Run("Missing", func(t *testing.T) {
		m := newTestMachine(precondition, serviceStage())
		cr := newOwner("cr1")
		st, req := respond(t, m, cr, m.Init(cr), nil)
		st, req = m.Step(cr, KubeResponseFor(req, nil, notFound("secrets", "user-config")), st)
		assert.Nil(t, req, "a missing precondition must not cause writes")
		assert.True(t, errors.Is(st.Err, ErrPreconditionNotFound), st.Err)
	})

	t.Run("Present", func(t *testing.T) {
		m := newTestMachine(precondition, serviceStage())
		cr := newOwner("cr1")
		st, req := respond(t, m, cr, m.Init(cr), nil)
		secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: "user-config", Namespace: "ns1", ResourceVersion: "11"}}
		st, req = respond(t, m, cr, st, KubeResponseFor(req, secret, nil))
		assert.True(t, AfterStep(ActionGet, tagService).Equal(st.Step), st.Step.String())
		require.NotNil(t, st.Threaded.LatestConfigMapRV)
		assert.Equal(t, "11", *st.Threaded.LatestConfigMapRV)
	})
}

func TestMachine_ZNode(t *testing.T) {
	probeAnswer := func(req *Request) *Response {
		return KubeResponseFor(req, nil, notFound("secrets", "cr1"))
	}

	t.Run("Exists", func(t *testing.T) {
		m := newTestMachine(znodeStage())
		cr := newOwner("cr1")
		st, req := respond(t, m, cr, m.Init(cr), nil)
		assert.True(t, AfterStep(ActionGet, tagProbe).Equal(st.Step), st.Step.String())

		st, req = respond(t, m, cr, st, probeAnswer(req))
		assert.True(t, AfterExternal(ExternalExists).Equal(st.Step), st.Step.String())
		assert.Equal(t, "/operator/cr1", req.ZK.Path)
		assert.Equal(t, "cr1-client.ns1.svc.cluster.local:2181", req.ZK.Target.Address())

		st, req = respond(t, m, cr, st, ZKResponseFor(req, true, 7, nil))
		assert.True(t, AfterExternal(ExternalSetData).Equal(st.Step), st.Step.String())
		assert.Equal(t, int32(7), req.ZK.Version)
		assert.Equal(t, "CLUSTER_SIZE=3", string(req.ZK.Data))

		st, req = m.Step(cr, ZKResponseFor(req, false, 0, nil), st)
		assert.Nil(t, req)
		assert.True(t, Done(st))
	})

	t.Run("Missing", func(t *testing.T) {
		m := newTestMachine(znodeStage())
		cr := newOwner("cr1")
		st, req := respond(t, m, cr, m.Init(cr), nil)
		st, req = respond(t, m, cr, st, probeAnswer(req))
		st, req = respond(t, m, cr, st, ZKResponseFor(req, false, 0, nil))
		assert.True(t, AfterExternal(ExternalCreateParent).Equal(st.Step), st.Step.String())
		assert.Equal(t, "/operator", req.ZK.Path)

		// Another cluster created the parent first.
		st, req = respond(t, m, cr, st, ZKResponseFor(req, false, 0, zk.ErrNodeExists))
		assert.True(t, AfterExternal(ExternalCreate).Equal(st.Step), st.Step.String())
		assert.Equal(t, "/operator/cr1", req.ZK.Path)
		assert.Equal(t, "CLUSTER_SIZE=3", string(req.ZK.Data))

		st, req = m.Step(cr, ZKResponseFor(req, false, 0, nil), st)
		assert.Nil(t, req)
		assert.True(t, Done(st))
	})

	t.Run("CreateFails", func(t *testing.T) {
		m := newTestMachine(znodeStage())
		cr := newOwner("cr1")
		st, req := respond(t, m, cr, m.Init(cr), nil)
		st, req = respond(t, m, cr, st, probeAnswer(req))
		st, req = respond(t, m, cr, st, ZKResponseFor(req, false, 0, nil))
		st, req = respond(t, m, cr, st, ZKResponseFor(req, false, 0, nil))
		st, req = m.Step(cr, ZKResponseFor(req, false, 0, zk.ErrNodeExists), st)
		assert.Nil(t, req)
		assert.True(t, Error(st))
		assert.Equal(t, ZKNodeCreateAlreadyExists, KindOf(st.Err))
	})

	t.Run("OwnedWorkload", func(t *testing.T) {
		m := newTestMachine(znodeStage())
		cr := newOwner("cr1")
		st, req := respond(t, m, cr, m.Init(cr), nil)
		workload := &corev1.Secret{ObjectMeta: metaFor(cr, "cr1")}
		st, req = respond(t, m, cr, st, KubeResponseFor(req, workload, nil))
		assert.Equal(t, ExternalExists, req.ZK.Op)
	})

	t.Run("ForeignWorkload", func(t *testing.T) {
		m := newTestMachine(znodeStage())
		cr := newOwner("cr1")
		st, req := respond(t, m, cr, m.Init(cr), nil)
		workload := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{
			Name: "cr1", Namespace: "ns1", OwnerReferences: []metav1.OwnerReference{foreignRef()},
		}}
		st, req = m.Step(cr, KubeResponseFor(req, workload, nil), st)
		assert.Nil(t, req, "ZooKeeper must not be touched for a foreign workload")
		assert.True(t, errors.Is(st.Err, ErrForeignOwner), st.Err)
	})
}

func TestMachine_RequestIDsIncrease(t *testing.T) {
	m := newTestMachine(serviceStage(), configStage(), statusStage())
	cr := newOwner("cr1")
	st, req := m.Step(cr, nil, m.Init(cr))
	var last uint64
	for req != nil {
		assert.Greater(t, req.ID, last)
		last = req.ID
		assert.Same(t, req, st.Pending, "the pending request is the one returned")
		var resp *Response
		switch req.Kube.Verb {
		case VerbGet:
			resp = KubeResponseFor(req, nil, notFound("any", req.Kube.Key.Name))
		default:
			resp = created(req, "5")
		}
		st, req = m.Step(cr, resp, st)
	}
	assert.True(t, Done(st))
}

func TestIDAllocator_Concurrent(t *testing.T) {
	ids := &IDAllocator{}
	const workers, perWorker = 8, 100
	var (
		mu   sync.Mutex
		seen []uint64
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, ids.Next())
			}
			mu.Lock()
			seen = append(seen, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i, id := range seen {
		assert.Equal(t, uint64(i+1), id)
	}
}

// Whatever the owner's labels and annotations, everything the machine creates carries
// exactly one controller reference to the owner and the owner's app label.
func TestMachine_CreatedObjectsAreOwned(t *testing.T) {
	f := fuzz.New().NilChance(0.2).NumElements(0, 5)
	for i := 0; i < 50; i++ {
		cr := newOwner(petname.Generate(2, "-"))
		f.Fuzz(&cr.Labels)
		f.Fuzz(&cr.Annotations)

		m := newTestMachine(serviceStage(), configStage(), znodeStage())
		st, req := m.Step(cr, nil, m.Init(cr))
		for req != nil {
			var resp *Response
			switch {
			case req.ZK != nil:
				resp = ZKResponseFor(req, false, 0, nil)
			case req.Kube.Verb == VerbGet:
				resp = KubeResponseFor(req, nil, notFound("any", req.Kube.Key.Name))
			default:
				obj := req.Kube.Object
				assert.Equal(t, []metav1.OwnerReference{ownerRef(cr)}, obj.GetOwnerReferences())
				assert.Equal(t, cr.Name, obj.GetLabels()["app"])
				assert.Equal(t, cr.Namespace, obj.GetNamespace())
				resp = created(req, "1")
			}
			st, req = m.Step(cr, resp, st)
		}
		require.True(t, Done(st), "round for %s: %v", cr.Name, st.Err)
	}
}

func TestStep_String(t *testing.T) {
	assert.Equal(t, "AfterStep(Get, StatefulSet)", AfterStep(ActionGet, "StatefulSet").String())
	assert.Equal(t, "AfterExternal(SetData)", AfterExternal(ExternalSetData).String())
	assert.Equal(t, "Done", Step{Phase: PhaseDone}.String())
	assert.Equal(t, "Phase(42)", Phase(42).String())
}

func TestKindOf(t *testing.T) {
	gr := schema.GroupResource{Group: appsv1.GroupName, Resource: "statefulsets"}
	tests := map[string]struct {
		err  error
		kind ErrorKind
	}{
		"Nil":           {err: nil, kind: ""},
		"NotFound":      {err: apierrors.NewNotFound(gr, "zk1"), kind: ObjectNotFound},
		"Conflict":      {err: apierrors.NewConflict(gr, "zk1", errors.New("stale")), kind: Conflict},
		"Forbidden":     {err: apierrors.NewForbidden(gr, "zk1", errors.New("denied")), kind: Forbidden},
		"NodeExists":    {err: zk.ErrNodeExists, kind: ZKNodeCreateAlreadyExists},
		"WrappedExists": {err: errors.Wrap(zk.ErrNodeExists, "creating /a"), kind: ZKNodeCreateAlreadyExists},
		"Other":         {err: errors.New("boom"), kind: Other},
	}
	for title, tc := range tests {
		t.Run(title, func(t *testing.T) {
			assert.Equal(t, tc.kind, KindOf(tc.err))
		})
	}
}
