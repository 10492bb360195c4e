package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := New(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	require.True(t, mr.Exists("k"))
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := New(context.Background(), Options{Addr: addr, DialTimeout: 100 * time.Millisecond, PingTimeout: 300 * time.Millisecond})
	require.Error(t, err)

	_, err = New(context.Background(), Options{})
	require.Error(t, err)
}
