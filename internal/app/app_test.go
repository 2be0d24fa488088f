package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/driftsync/gitmirrord/internal/git"
	gitmocks "github.com/driftsync/gitmirrord/internal/git/mocks"
)

// freePort asks the kernel for an unused TCP port
func freePort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	return l.Addr().String()
}

func TestAppStartStop(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fetcher := gitmocks.NewMockFetcher(ctrl)

	root := sourceDir(t, map[string]string{"file.txt": "content\n"})
	fetcher.EXPECT().Fetch(gomock.Any()).Return(&git.Checkout{
		Revision: "abc123",
		Root:     root,
	}, nil).AnyTimes()

	addr := freePort(t)
	cfg := testConfig(t)

	app, err := NewApp(context.Background(),
		WithConfig(cfg),
		WithFetcher(fetcher),
		WithAddress(addr),
	)
	require.NoError(t, err)

	started := make(chan error, 1)
	go func() {
		started <- app.Start()
	}()

	// The startup trigger runs a first cycle; wait for readiness
	client := &http.Client{Timeout: time.Second}
	require.Eventually(t, func() bool {
		resp, err := client.Get(fmt.Sprintf("http://%s/readiness", addr))
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, app.Stop(5*time.Second))

	select {
	case err := <-started:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestAppHealthBeforeFirstSync(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fetcher := gitmocks.NewMockFetcher(ctrl)
	// Block fetches so readiness stays 503 while health is already 200
	fetcher.EXPECT().Fetch(gomock.Any()).DoAndReturn(func(ctx context.Context) (*git.Checkout, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}).AnyTimes()

	addr := freePort(t)
	cfg := testConfig(t)

	app, err := NewApp(context.Background(),
		WithConfig(cfg),
		WithFetcher(fetcher),
		WithAddress(addr),
	)
	require.NoError(t, err)

	go func() { _ = app.Start() }()
	defer func() { _ = app.Stop(5 * time.Second) }()

	client := &http.Client{Timeout: time.Second}
	require.Eventually(t, func() bool {
		resp, err := client.Get(fmt.Sprintf("http://%s/health", addr))
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	resp, err := client.Get(fmt.Sprintf("http://%s/readiness", addr))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
