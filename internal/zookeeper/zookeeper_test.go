package zookeeper

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarget_Address(t *testing.T) {
	target := Target{Host: "zk1-client", Namespace: "ns", Port: 2181}
	assert.Equal(t, "zk1-client.ns.svc.cluster.local:2181", target.Address())
	assert.Equal(t, target.Address(), target.String())
}

func TestWithContext(t *testing.T) {
	t.Run("Result", func(t *testing.T) {
		got, err := withContext(context.Background(), func() (int, error) {
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)
	})

	t.Run("Error", func(t *testing.T) {
		_, err := withContext(context.Background(), func() (int, error) {
			return 0, errors.New("boom")
		})
		assert.EqualError(t, err, "boom")
	})

	t.Run("Cancelled", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		got, err := withContext(ctx, func() (string, error) {
			<-release
			return "late", nil
		})
		assert.True(t, errors.Is(err, context.DeadlineExceeded), err)
		assert.Empty(t, got)
	})
}

func TestClientZooKeeperAPIBuilder_NoServers(t *testing.T) {
	_, err := (&ClientZooKeeperAPIBuilder{}).New(Config{})
	assert.Error(t, err)
}
