// Package zktest provides an in-memory ZooKeeper for tests.
package zktest

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/go-zookeeper/zk"

	"github.com/anvil-dev/middleware-operators/internal/zookeeper"
)

type node struct {
	data    []byte
	version int32
}

// Fake is a ZooKeeper tree shared by every session it hands out.
type Fake struct {
	mu    sync.Mutex
	nodes map[string]*node
	// Calls records every operation as "<op> <path>".
	Calls []string
	// Servers records the addresses sessions were opened against.
	Servers []string
	// ConnectErr, when set, is returned by New.
	ConnectErr error
	// Errors forces an error for the next call of "<op> <path>".
	Errors map[string]error
}

var _ zookeeper.APIBuilder = &Fake{}

func New() *Fake {
	return &Fake{
		nodes:  map[string]*node{"/": {}},
		Errors: map[string]error{},
	}
}

// Put seeds a node.
func (f *Fake) Put(p string, data string, version int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[p] = &node{data: []byte(data), version: version}
}

// Get returns the node data and version, and whether it exists.
func (f *Fake) Get(p string) (string, int32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[p]
	if !ok {
		return "", 0, false
	}
	return string(n.data), n.version, true
}

func (f *Fake) New(config zookeeper.Config) (zookeeper.API, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Servers = append(f.Servers, config.Servers...)
	if f.ConnectErr != nil {
		return nil, f.ConnectErr
	}
	return &session{f: f}, nil
}

func (f *Fake) call(op, p string) error {
	f.Calls = append(f.Calls, fmt.Sprintf("%s %s", op, p))
	key := fmt.Sprintf("%s %s", op, p)
	if err, ok := f.Errors[key]; ok {
		delete(f.Errors, key)
		return err
	}
	return nil
}

type session struct {
	f *Fake
}

func (s *session) Exists(_ context.Context, p string) (bool, int32, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.call("Exists", p); err != nil {
		return false, 0, err
	}
	n, ok := s.f.nodes[p]
	if !ok {
		return false, 0, nil
	}
	return true, n.version, nil
}

func (s *session) Create(_ context.Context, p string, data []byte) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.call("Create", p); err != nil {
		return err
	}
	if _, ok := s.f.nodes[p]; ok {
		return zk.ErrNodeExists
	}
	if _, ok := s.f.nodes[path.Dir(p)]; !ok {
		return zk.ErrNoNode
	}
	s.f.nodes[p] = &node{data: data}
	return nil
}

func (s *session) SetData(_ context.Context, p string, data []byte, version int32) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.call("SetData", p); err != nil {
		return err
	}
	n, ok := s.f.nodes[p]
	if !ok {
		return zk.ErrNoNode
	}
	if n.version != version {
		return zk.ErrBadVersion
	}
	n.data = data
	n.version++
	return nil
}

func (s *session) Close() error {
	return nil
}
