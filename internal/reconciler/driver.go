package reconciler

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"

	"github.com/anvil-dev/middleware-operators/internal/metrics"
	"github.com/anvil-dev/middleware-operators/internal/reconcilerevent"
	"github.com/anvil-dev/middleware-operators/internal/zookeeper"
)

// Driver runs rounds of a Machine against the API server and, for pipelines with a
// ZNodeStage, ZooKeeper. It is the only part of the package that performs I/O.
type Driver[T client.Object] struct {
	Client   client.Client
	Recorder record.EventRecorder
	Machine  *Machine[T]
	// Kind labels metrics, e.g. "ZookeeperCluster".
	Kind string

	ZooKeeper               zookeeper.APIBuilder
	ZooKeeperSessionTimeout time.Duration
}

// Run executes one round for cr, from Init until Done or Error. The returned error is the
// round error, for the controller runtime to requeue on.
func (d *Driver[T]) Run(ctx context.Context, log logr.Logger, cr T) (State, error) {
	start := time.Now()
	r := &round[T]{Driver: d, log: log, cr: cr, sessions: map[string]zookeeper.API{}}
	defer r.close()

	st := d.Machine.Init(cr)
	var (
		resp *Response
		last Step
	)
	for {
		var req *Request
		last = st.Step
		st, req = d.Machine.Step(cr, resp, st)
		if req == nil {
			break
		}
		log.V(1).Info("Issuing request", "step", st.Step.String(), "request", req.String())
		resp = r.execute(ctx, req)
	}
	metrics.RoundDuration.WithLabelValues(d.Kind).Observe(time.Since(start).Seconds())

	if Error(st) {
		metrics.RoundsTotal.WithLabelValues(d.Kind, metrics.ResultError).Inc()
		(&reconcilerevent.ReconcileFailedEvent{Object: cr, Step: last.String(), Err: st.Err}).Record(d.Recorder)
		return st, st.Err
	}
	metrics.RoundsTotal.WithLabelValues(d.Kind, metrics.ResultDone).Inc()
	log.V(1).Info("Round complete", "duration", time.Since(start).String())
	return st, nil
}

// round holds what one Run needs across requests.
type round[T client.Object] struct {
	*Driver[T]
	log      logr.Logger
	cr       T
	sessions map[string]zookeeper.API
}

func (r *round[T]) execute(ctx context.Context, req *Request) *Response {
	if req.ZK != nil {
		return r.executeZK(ctx, req)
	}
	return r.executeKube(ctx, req)
}

func (r *round[T]) executeKube(ctx context.Context, req *Request) *Response {
	kreq := req.Kube
	metrics.RequestsTotal.WithLabelValues(r.Kind, metrics.TargetKubernetes, string(kreq.Verb)).Inc()

	switch kreq.Verb {
	case VerbGet:
		obj := kreq.Object
		err := r.Client.Get(ctx, kreq.Key, obj)
		return KubeResponseFor(req, obj, err)
	case VerbCreate:
		obj := kreq.Object.DeepCopyObject().(client.Object)
		if err := r.Client.Create(ctx, obj); err != nil {
			return KubeResponseFor(req, nil, err)
		}
		r.log.Info("Created object", "kind", r.kindOf(obj), "name", obj.GetName())
		(&reconcilerevent.ObjectCreatedEvent{Log: r.log, For: r.cr, Object: obj}).Record(r.Recorder)
		return KubeResponseFor(req, obj, nil)
	case VerbUpdate:
		var diff string
		if kreq.Observed != nil {
			diff = cmp.Diff(kreq.Observed, kreq.Object)
		}
		obj := kreq.Object.DeepCopyObject().(client.Object)
		if err := r.Client.Update(ctx, obj); err != nil {
			return KubeResponseFor(req, nil, err)
		}
		// The API server skips the write of a no-op update and keeps the resource version.
		if diff == "" || obj.GetResourceVersion() == kreq.Observed.GetResourceVersion() {
			r.log.V(1).Info("Object unchanged", "kind", r.kindOf(obj), "name", obj.GetName())
		} else {
			r.log.Info("Updated object", "kind", r.kindOf(obj), "name", obj.GetName())
			r.log.V(1).Info("Update diff (- observed, + desired)", "diff", diff)
			(&reconcilerevent.ObjectUpdatedEvent{Log: r.log, For: r.cr, Object: obj}).Record(r.Recorder)
		}
		return KubeResponseFor(req, obj, nil)
	case VerbUpdateStatus:
		obj := kreq.Object.DeepCopyObject().(client.Object)
		if err := r.Client.Status().Update(ctx, obj); err != nil {
			return KubeResponseFor(req, nil, err)
		}
		return KubeResponseFor(req, obj, nil)
	}
	return KubeResponseFor(req, nil, errors.Errorf("unknown verb %q", kreq.Verb))
}

func (r *round[T]) executeZK(ctx context.Context, req *Request) *Response {
	zreq := req.ZK
	metrics.RequestsTotal.WithLabelValues(r.Kind, metrics.TargetZooKeeper, string(zreq.Op)).Inc()

	api, err := r.session(zreq.Target)
	if err != nil {
		return ZKResponseFor(req, false, 0, err)
	}
	switch zreq.Op {
	case ExternalExists:
		exists, version, err := api.Exists(ctx, zreq.Path)
		return ZKResponseFor(req, exists, version, err)
	case ExternalCreateParent, ExternalCreate:
		err := api.Create(ctx, zreq.Path, zreq.Data)
		if err == nil && zreq.Op == ExternalCreate {
			r.log.Info("Created znode", "path", zreq.Path, "data", string(zreq.Data))
			(&reconcilerevent.ZNodeCreatedEvent{Object: r.cr, Path: zreq.Path, Data: string(zreq.Data)}).Record(r.Recorder)
		}
		return ZKResponseFor(req, false, 0, err)
	case ExternalSetData:
		err := api.SetData(ctx, zreq.Path, zreq.Data, zreq.Version)
		if err == nil {
			r.log.V(1).Info("Set znode data", "path", zreq.Path, "data", string(zreq.Data), "version", zreq.Version)
		}
		return ZKResponseFor(req, false, 0, err)
	}
	return ZKResponseFor(req, false, 0, errors.Errorf("unknown ZooKeeper operation %q", zreq.Op))
}

// session returns the round's ZooKeeper session for target, opening it on first use.
func (r *round[T]) session(target zookeeper.Target) (zookeeper.API, error) {
	addr := target.Address()
	if api, ok := r.sessions[addr]; ok {
		return api, nil
	}
	if r.ZooKeeper == nil {
		return nil, errors.New("no ZooKeeper client configured")
	}
	api, err := r.ZooKeeper.New(zookeeper.Config{
		Servers:        []string{addr},
		SessionTimeout: r.ZooKeeperSessionTimeout,
		Log:            r.log.WithName("zookeeper"),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", addr)
	}
	r.sessions[addr] = api
	return api, nil
}

func (r *round[T]) close() {
	for addr, api := range r.sessions {
		if err := api.Close(); err != nil {
			r.log.Error(err, "Closing ZooKeeper session", "address", addr)
		}
	}
}

func (r *round[T]) kindOf(obj client.Object) string {
	gvk, err := apiutil.GVKForObject(obj, r.Client.Scheme())
	if err != nil {
		return "<unknown>"
	}
	return gvk.Kind
}
