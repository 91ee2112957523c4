package client

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/taskd/fsops"
	"github.com/chazu/taskd/protocol"
	"github.com/chazu/taskd/server"
	"github.com/chazu/taskd/vm"
)

func startServer(t *testing.T, opts ...server.ServerOption) string {
	t.Helper()
	agent := server.Start(fsops.New(fsops.DefaultSeed), 4)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.New(agent, opts...).Serve(ctx, l) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		agent.Stop()
	})
	return l.Addr().String()
}

func TestRunWritesAndReports(t *testing.T) {
	for _, codec := range []protocol.Codec{protocol.JSONCodec{}, protocol.CBORCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			addr := startServer(t, server.WithCodec(codec))
			path := filepath.Join(t.TempDir(), "out.txt")

			recipe := protocol.EncodeRecipe(vm.Program{
				{Op: vm.OpLoadConst, Args: vm.LoadConst{Dest: 0, Value: vm.String(path)}},
				{Op: vm.OpLoadConst, Args: vm.LoadConst{Dest: 1, Value: vm.String("hello")}},
				{Op: vm.OpLoadConst, Args: vm.LoadConst{Dest: 2, Value: vm.String("w")}},
				{Op: vm.OpFsWrite, Args: vm.FsWrite{Dest: 3, Path: 0, Content: 1, Mode: 2}},
				{Op: vm.OpFsRead, Args: vm.FsRead{Dest: 4, Path: 0}},
				{Op: vm.OpReport, Args: vm.Report{Regs: []int{3, 4}}},
				{Op: vm.OpReturn, Args: vm.Return{Value: 0}},
			})

			res, err := NewTCP(addr, time.Second, WithCodec(codec)).Run(recipe)
			require.NoError(t, err)
			assert.Equal(t, protocol.StatusOK, res.Status)
			assert.Equal(t, [][]any{{true, "hello"}}, res.Reports)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "hello", string(data))
		})
	}
}

func TestRunRejected(t *testing.T) {
	addr := startServer(t, server.WithMinVersion(Version+1))
	_, err := NewTCP(addr, time.Second, WithHello("old")).Run([]any{})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestRunDialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = NewTCP(addr, time.Second).Run([]any{})
	assert.Error(t, err)
}
