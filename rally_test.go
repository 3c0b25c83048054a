package rally

import (
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/arenalabs/rally/testutils"
)

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	port := fmt.Sprintf("%d", ln.Addr().(*net.TCPAddr).Port)
	assert.NilError(t, ln.Close())
	return port
}

func TestAppLifecycle(t *testing.T) {
	port := freePort(t)
	app, err := New(WithStore(testutils.NewFakeStore()), WithPort(port))
	assert.NilError(t, err)
	assert.Equal(t, StagePreStart, app.Stage())

	startErr := make(chan error, 1)
	go func() {
		startErr <- app.Start()
	}()

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		resp, err := http.Get("http://127.0.0.1:" + port + "/health")
		if err != nil {
			return poll.Continue("server not up yet: %v", err)
		}
		resp.Body.Close()
		return poll.Success()
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(10*time.Millisecond))
	assert.Equal(t, StageRunning, app.Stage())

	assert.NilError(t, app.Shutdown())
	select {
	case err := <-startErr:
		assert.NilError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
	assert.Equal(t, StageShutDown, app.Stage())

	// A second shutdown reports the stage mismatch instead of re-running
	// teardown.
	assert.ErrorContains(t, app.Shutdown(), "cannot shut down")
}

func TestStartRejectsDoubleStart(t *testing.T) {
	port := freePort(t)
	app, err := New(WithStore(testutils.NewFakeStore()), WithPort(port))
	assert.NilError(t, err)

	go func() { _ = app.Start() }()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if app.Stage() != StageRunning {
			return poll.Continue("app stage is %s", app.Stage())
		}
		return poll.Success()
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(10*time.Millisecond))

	assert.ErrorContains(t, app.Start(), "cannot start")
	assert.NilError(t, app.Shutdown())
}
