package reload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/gitmirrord/internal/config"
	"github.com/driftsync/gitmirrord/internal/httpclient"
)

func TestParseSignal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		expected syscall.Signal
		wantErr  bool
	}{
		{name: "full name", input: "SIGHUP", expected: syscall.SIGHUP},
		{name: "lowercase", input: "sighup", expected: syscall.SIGHUP},
		{name: "without prefix", input: "usr1", expected: syscall.SIGUSR1},
		{name: "padded", input: " SIGTERM ", expected: syscall.SIGTERM},
		{name: "unsupported", input: "SIGKILL", wantErr: true},
		{name: "garbage", input: "not-a-signal", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sig, err := ParseSignal(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, sig)
		})
	}
}

func TestSignalNotifierDeliversSignal(t *testing.T) {
	received := make(chan os.Signal, 1)
	signal.Notify(received, syscall.SIGUSR1)
	defer signal.Stop(received)

	notifier, err := newSignalNotifier(&config.SignalReloadConfig{
		Name: "SIGUSR1",
		PID:  os.Getpid(),
	})
	require.NoError(t, err)
	assert.Equal(t, "signal:SIGUSR1", notifier.Name())

	require.NoError(t, notifier.Notify(context.Background(), "abc123"))

	select {
	case sig := <-received:
		assert.Equal(t, syscall.SIGUSR1, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("signal was not delivered")
	}
}

func TestSignalNotifierReadsPIDFile(t *testing.T) {
	received := make(chan os.Signal, 1)
	signal.Notify(received, syscall.SIGUSR2)
	defer signal.Stop(received)

	pidFile := filepath.Join(t.TempDir(), "app.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("  "+itoa(os.Getpid())+"\n"), 0600))

	notifier, err := newSignalNotifier(&config.SignalReloadConfig{
		Name:    "SIGUSR2",
		PIDFile: pidFile,
	})
	require.NoError(t, err)

	require.NoError(t, notifier.Notify(context.Background(), "abc123"))

	select {
	case sig := <-received:
		assert.Equal(t, syscall.SIGUSR2, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("signal was not delivered")
	}
}

func itoa(n int) string {
	data, _ := json.Marshal(n)
	return string(data)
}

func TestReadPIDFile(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := readPIDFile(filepath.Join(t.TempDir(), "nope.pid"))
		require.Error(t, err)
	})

	t.Run("not a number", func(t *testing.T) {
		t.Parallel()
		pidFile := filepath.Join(t.TempDir(), "app.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid"), 0600))
		_, err := readPIDFile(pidFile)
		require.Error(t, err)
	})

	t.Run("non-positive pid", func(t *testing.T) {
		t.Parallel()
		pidFile := filepath.Join(t.TempDir(), "app.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("0"), 0600))
		_, err := readPIDFile(pidFile)
		require.Error(t, err)
	})
}

func TestCommandNotifier(t *testing.T) {
	t.Parallel()

	t.Run("passes revision in environment", func(t *testing.T) {
		t.Parallel()
		outFile := filepath.Join(t.TempDir(), "revision.out")
		notifier := newCommandNotifier(&config.CommandReloadConfig{
			Argv: []string{"sh", "-c", "printf '%s' \"$GITMIRRORD_REVISION\" > " + outFile},
		})
		assert.Equal(t, "command:sh", notifier.Name())

		require.NoError(t, notifier.Notify(context.Background(), "abc123"))

		data, err := os.ReadFile(outFile)
		require.NoError(t, err)
		assert.Equal(t, "abc123", string(data))
	})

	t.Run("non-zero exit includes output", func(t *testing.T) {
		t.Parallel()
		notifier := newCommandNotifier(&config.CommandReloadConfig{
			Argv: []string{"sh", "-c", "echo boom >&2; exit 3"},
		})

		err := notifier.Notify(context.Background(), "abc123")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("timeout aborts the command", func(t *testing.T) {
		t.Parallel()
		notifier := newCommandNotifier(&config.CommandReloadConfig{
			Argv:    []string{"sleep", "5"},
			Timeout: "50ms",
		})

		start := time.Now()
		err := notifier.Notify(context.Background(), "abc123")
		require.Error(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestHTTPNotifier(t *testing.T) {
	t.Parallel()

	t.Run("sends revision header and body", func(t *testing.T) {
		t.Parallel()
		var gotMethod, gotHeader string
		var gotBody map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotHeader = r.Header.Get(RevisionHeader)
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		cfg := &config.HTTPReloadConfig{Endpoint: server.URL, Method: "PATCH"}
		notifier := newHTTPNotifier(cfg, nil)
		notifier.client = newTestClient(t)

		require.NoError(t, notifier.Notify(context.Background(), "abc123"))
		assert.Equal(t, http.MethodPatch, gotMethod)
		assert.Equal(t, "abc123", gotHeader)
		assert.Equal(t, map[string]string{"revision": "abc123"}, gotBody)
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		cfg := &config.HTTPReloadConfig{Endpoint: server.URL}
		notifier := newHTTPNotifier(cfg, newTestClient(t))

		err := notifier.Notify(context.Background(), "abc123")
		require.Error(t, err)
	})
}

func newTestClient(t *testing.T) *testHTTPClient {
	t.Helper()
	return &testHTTPClient{}
}

// testHTTPClient implements httpclient.Client by delegating to the default
// implementation, so requests really reach the httptest server.
type testHTTPClient struct{}

func (c *testHTTPClient) Do(ctx context.Context, method, url string, header http.Header, body []byte) ([]byte, error) {
	return httpclient.NewDefaultClient(0).Do(ctx, method, url, header, body)
}

func TestNewNotifier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		reload       *config.ReloadConfig
		expectedName string
	}{
		{
			name:         "nil reload is noop",
			reload:       nil,
			expectedName: "none",
		},
		{
			name: "signal",
			reload: &config.ReloadConfig{
				Signal: &config.SignalReloadConfig{Name: "SIGHUP", PID: 1234},
			},
			expectedName: "signal:SIGHUP",
		},
		{
			name: "command",
			reload: &config.ReloadConfig{
				Command: &config.CommandReloadConfig{Argv: []string{"systemctl", "reload", "myapp"}},
			},
			expectedName: "command:systemctl",
		},
		{
			name: "http",
			reload: &config.ReloadConfig{
				HTTP: &config.HTTPReloadConfig{Endpoint: "http://127.0.0.1:9901/reload"},
			},
			expectedName: "http:http://127.0.0.1:9901/reload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{
				Repo:   config.RepoConfig{URL: "https://example.com/r.git"},
				Mirror: config.MirrorConfig{Dir: "/tmp/mirror"},
				Reload: tt.reload,
			}
			notifier, err := NewNotifier(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedName, notifier.Name())
		})
	}

	t.Run("invalid signal name errors", func(t *testing.T) {
		t.Parallel()
		cfg := &config.Config{
			Reload: &config.ReloadConfig{
				Signal: &config.SignalReloadConfig{Name: "SIGKILL", PID: 1},
			},
		}
		_, err := NewNotifier(cfg)
		require.Error(t, err)
	})

	t.Run("noop notifier never fails", func(t *testing.T) {
		t.Parallel()
		n := &noopNotifier{}
		require.NoError(t, n.Notify(context.Background(), "abc123"))
	})
}
