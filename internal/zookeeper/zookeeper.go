// Package zookeeper wraps the small part of the ZooKeeper client protocol the operator
// uses to publish the ensemble size, behind interfaces that tests can fake.
package zookeeper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

// ErrNodeExists is returned by Create when the node is already present.
var ErrNodeExists = zk.ErrNodeExists

type Config struct {
	Servers        []string
	SessionTimeout time.Duration
	Log            logr.Logger
}

// Target addresses the client Service of an ensemble.
type Target struct {
	Host      string
	Namespace string
	Port      int32
}

// Address is the in-cluster DNS address of the target.
func (t Target) Address() string {
	return fmt.Sprintf("%s.%s.svc.cluster.local:%d", t.Host, t.Namespace, t.Port)
}

func (t Target) String() string {
	return t.Address()
}

// API contains only the ZooKeeper operations that we use in the operator
// to allow for testing fakes.
type API interface {
	// Exists reports whether path is present and, if so, its data version.
	Exists(ctx context.Context, path string) (bool, int32, error)

	// Create adds a persistent node with world permissions.
	Create(ctx context.Context, path string, data []byte) error

	// SetData replaces the node data if its version still matches.
	SetData(ctx context.Context, path string, data []byte, version int32) error

	// Close the session
	Close() error
}

// APIBuilder is used to connect to an ensemble in the first place
type APIBuilder interface {
	New(Config) (API, error)
}

type ClientZooKeeperAPI struct {
	conn *zk.Conn
}

var _ API = &ClientZooKeeperAPI{}

func (c *ClientZooKeeperAPI) Exists(ctx context.Context, path string) (bool, int32, error) {
	stat, err := withContext(ctx, func() (*zk.Stat, error) {
		ok, stat, err := c.conn.Exists(path)
		if err != nil || !ok {
			return nil, err
		}
		return stat, nil
	})
	if err != nil {
		return false, 0, errors.Wrapf(err, "checking %s", path)
	}
	if stat == nil {
		return false, 0, nil
	}
	return true, stat.Version, nil
}

func (c *ClientZooKeeperAPI) Create(ctx context.Context, path string, data []byte) error {
	_, err := withContext(ctx, func() (string, error) {
		return c.conn.Create(path, data, 0, zk.WorldACL(zk.PermAll))
	})
	return errors.Wrapf(err, "creating %s", path)
}

func (c *ClientZooKeeperAPI) SetData(ctx context.Context, path string, data []byte, version int32) error {
	_, err := withContext(ctx, func() (*zk.Stat, error) {
		return c.conn.Set(path, data, version)
	})
	return errors.Wrapf(err, "setting data of %s at version %d", path, version)
}

func (c *ClientZooKeeperAPI) Close() error {
	c.conn.Close()
	return nil
}

// withContext runs a blocking client call, giving up when ctx is done. The client
// library has no context support; an abandoned call finishes when the session closes.
func withContext[R any](ctx context.Context, f func() (R, error)) (R, error) {
	type result struct {
		r   R
		err error
	}
	done := make(chan result, 1)
	go func() {
		r, err := f()
		done <- result{r: r, err: err}
	}()
	select {
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	case res := <-done:
		return res.r, res.err
	}
}

type ClientZooKeeperAPIBuilder struct{}

var _ APIBuilder = &ClientZooKeeperAPIBuilder{}

func (o *ClientZooKeeperAPIBuilder) New(config Config) (API, error) {
	if len(config.Servers) == 0 {
		return nil, errors.New("no ZooKeeper servers configured")
	}
	log := config.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	conn, _, err := zk.Connect(config.Servers, config.SessionTimeout, zk.WithLogger(printfLogger{log: log}))
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %v", config.Servers)
	}
	return &ClientZooKeeperAPI{conn: conn}, nil
}

// printfLogger adapts the client's Printf logging onto logr.
type printfLogger struct {
	log logr.Logger
}

func (l printfLogger) Printf(format string, args ...interface{}) {
	l.log.V(1).Info(fmt.Sprintf(format, args...))
}
