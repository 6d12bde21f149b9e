// Package machinetest runs reconcile machines against an in-memory API server and
// ZooKeeper, without the controller runtime.
package machinetest

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/anvil-dev/middleware-operators/internal/reconciler"
	"github.com/anvil-dev/middleware-operators/internal/test/zktest"
	"github.com/anvil-dev/middleware-operators/internal/zookeeper"
)

const maxRequests = 100

// World answers the requests of a machine.
type World struct {
	objects map[string]client.Object
	rv      int

	ZK *zktest.Fake
	// ResourceVersions forces the resource version of the next writes of the named object.
	ResourceVersions map[string]string
	// Errors forces an error for the next "<verb> <name>" request.
	Errors map[string]error

	// Steps records the step of the round after each request was issued.
	Steps []string
	// Calls records each Kubernetes request as "<verb> <name>".
	Calls []string
}

func New(objs ...client.Object) *World {
	w := &World{
		objects:          map[string]client.Object{},
		ZK:               zktest.New(),
		ResourceVersions: map[string]string{},
		Errors:           map[string]error{},
	}
	for _, obj := range objs {
		w.Add(obj)
	}
	return w
}

func key(obj client.Object, name string) string {
	return fmt.Sprintf("%T/%s", obj, name)
}

// Add stores a copy of obj, giving it a resource version if it has none.
func (w *World) Add(obj client.Object) {
	obj = obj.DeepCopyObject().(client.Object)
	if obj.GetResourceVersion() == "" {
		obj.SetResourceVersion(w.nextRV(obj.GetName()))
	}
	w.objects[key(obj, obj.GetName())] = obj
}

// Get returns a copy of the stored object of type O, or the zero O.
func Get[O client.Object](w *World, name string) O {
	var zero O
	obj, ok := w.objects[key(zero, name)]
	if !ok {
		return zero
	}
	return obj.DeepCopyObject().(O)
}

func (w *World) nextRV(name string) string {
	if rv, ok := w.ResourceVersions[name]; ok {
		return rv
	}
	w.rv++
	return strconv.Itoa(w.rv)
}

// Run drives m for cr until the round ends and returns the final state.
func Run[T client.Object](t testing.TB, m *reconciler.Machine[T], cr T, w *World) reconciler.State {
	t.Helper()
	st := m.Init(cr)
	var resp *reconciler.Response
	for i := 0; i < maxRequests; i++ {
		var req *reconciler.Request
		st, req = m.Step(cr, resp, st)
		if req == nil {
			return st
		}
		w.Steps = append(w.Steps, st.Step.String())
		resp = w.Answer(req)
	}
	t.Fatalf("round did not end after %d requests", maxRequests)
	return st
}

// Answer executes req against the world.
func (w *World) Answer(req *reconciler.Request) *reconciler.Response {
	if req.ZK != nil {
		return w.answerZK(req)
	}
	kreq := req.Kube
	name := kreq.Key.Name
	if kreq.Verb != reconciler.VerbGet {
		name = kreq.Object.GetName()
	}
	call := fmt.Sprintf("%s %s", kreq.Verb, name)
	w.Calls = append(w.Calls, call)
	if err, ok := w.Errors[call]; ok {
		delete(w.Errors, call)
		return reconciler.KubeResponseFor(req, nil, err)
	}

	k := key(kreq.Object, name)
	gr := schema.GroupResource{Resource: fmt.Sprintf("%T", kreq.Object)}
	switch kreq.Verb {
	case reconciler.VerbGet:
		obj, ok := w.objects[k]
		if !ok {
			return reconciler.KubeResponseFor(req, nil, apierrors.NewNotFound(gr, name))
		}
		return reconciler.KubeResponseFor(req, obj.DeepCopyObject().(client.Object), nil)
	case reconciler.VerbCreate:
		if _, ok := w.objects[k]; ok {
			return reconciler.KubeResponseFor(req, nil, apierrors.NewAlreadyExists(gr, name))
		}
	case reconciler.VerbUpdate, reconciler.VerbUpdateStatus:
		if _, ok := w.objects[k]; !ok && kreq.Verb == reconciler.VerbUpdate {
			return reconciler.KubeResponseFor(req, nil, apierrors.NewNotFound(gr, name))
		}
	}
	obj := kreq.Object.DeepCopyObject().(client.Object)
	obj.SetResourceVersion(w.nextRV(name))
	w.objects[k] = obj
	return reconciler.KubeResponseFor(req, obj.DeepCopyObject().(client.Object), nil)
}

func (w *World) answerZK(req *reconciler.Request) *reconciler.Response {
	zreq := req.ZK
	ctx := context.Background()
	api, err := w.ZK.New(zookeeper.Config{Servers: []string{zreq.Target.Address()}})
	if err != nil {
		return reconciler.ZKResponseFor(req, false, 0, err)
	}
	defer api.Close()
	switch zreq.Op {
	case reconciler.ExternalExists:
		exists, version, err := api.Exists(ctx, zreq.Path)
		return reconciler.ZKResponseFor(req, exists, version, err)
	case reconciler.ExternalCreateParent, reconciler.ExternalCreate:
		return reconciler.ZKResponseFor(req, false, 0, api.Create(ctx, zreq.Path, zreq.Data))
	case reconciler.ExternalSetData:
		return reconciler.ZKResponseFor(req, false, 0, api.SetData(ctx, zreq.Path, zreq.Data, zreq.Version))
	}
	return reconciler.ZKResponseFor(req, false, 0, errors.Errorf("unknown operation %s", zreq.Op))
}
