package responder

import (
	"evloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io/ioutil"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"
)

func startResponder(t *testing.T, opts Options) (*evloop.EventLoop, *Listener) {
	t.Helper()
	loop, err := evloop.NewEventLoop(evloop.EventLoopConfig{Name: t.Name(), EventBufferSize: 64})
	require.NoError(t, err)
	opts.Address = "127.0.0.1:0"
	listener, err := Listen(loop, opts)
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		result <- loop.Run()
	}()
	require.Eventually(t, func() bool { return loop.State() == evloop.Waiting }, 2*time.Second, 5*time.Millisecond)
	t.Cleanup(func() {
		require.NoError(t, loop.Stop())
		select {
		case err := <-result:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("event loop did not stop")
		}
		require.NoError(t, loop.Close())
	})
	return loop, listener
}

func get(t *testing.T, listener *Listener, path string) (*http.Response, string) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + listener.Addr().String() + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestResponderServesFixedResponse(t *testing.T) {
	for _, edge := range []bool{false, true} {
		edge := edge
		name := "level"
		if edge {
			name = "edge"
		}
		t.Run(name, func(t *testing.T) {
			loop, listener := startResponder(t, Options{EdgeTriggered: edge})

			resp, body := get(t, listener, "/")
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "Hello, World from My Cool Event-loop library!!", body)
			assert.Equal(t, int64(len(body)), resp.ContentLength)

			// the connection handler removes itself once the response is written
			require.Eventually(t, func() bool { return loop.Stats().Registered == 1 }, 2*time.Second, 5*time.Millisecond)
			assert.Equal(t, uint64(1), listener.Served())
		})
	}
}

func TestResponderRoutes(t *testing.T) {
	_, listener := startResponder(t, Options{
		Body:   "default",
		Routes: map[string]string{"/health": "ok"},
	})

	_, body := get(t, listener, "/health?verbose=1")
	assert.Equal(t, "ok", body)
	_, body = get(t, listener, "/health")
	assert.Equal(t, "ok", body)
	_, body = get(t, listener, "/unknown")
	assert.Equal(t, "default", body)
	require.Eventually(t, func() bool { return listener.Served() == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestResponderConcurrentClients(t *testing.T) {
	_, listener := startResponder(t, Options{EdgeTriggered: true, Body: "pong"})

	const clients = 32
	group := &sync.WaitGroup{}
	bodies := make(chan string, clients)
	for i := 0; i < clients; i++ {
		group.Add(1)
		go func() {
			defer group.Done()
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get("http://" + listener.Addr().String() + "/")
			if err != nil {
				bodies <- err.Error()
				return
			}
			defer resp.Body.Close()
			body, err := ioutil.ReadAll(resp.Body)
			if err != nil {
				bodies <- err.Error()
				return
			}
			bodies <- string(body)
		}()
	}
	group.Wait()
	close(bodies)
	for body := range bodies {
		assert.Equal(t, "pong", body)
	}
	require.Eventually(t, func() bool { return listener.Served() == clients }, 2*time.Second, 5*time.Millisecond)
}

func TestResponderSurvivesSilentClient(t *testing.T) {
	loop, listener := startResponder(t, Options{})

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, body := get(t, listener, "/")
	assert.NotEmpty(t, body)
	require.Eventually(t, func() bool { return loop.Stats().Registered == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), listener.Served())
	assert.Equal(t, evloop.Waiting, loop.State())
}

func TestResponderWaitsForRequestLine(t *testing.T) {
	_, listener := startResponder(t, Options{
		EdgeTriggered: true,
		Body:          "default",
		Routes:        map[string]string{"/health": "ok"},
	})

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("GET /hea"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = conn.Write([]byte("lth HTTP/1.1\r\nHost: test\r\n\r\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	response, err := ioutil.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, string(renderResponse("ok")), string(response))
}

func TestResponderAnswersWhenBufferFills(t *testing.T) {
	_, listener := startResponder(t, Options{ReadBufferSize: 8, Body: "short"})

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	// exactly one buffer worth and no line end
	_, err = conn.Write([]byte("GET /abc"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	response, err := ioutil.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, string(renderResponse("short")), string(response))
}

func TestListenErrors(t *testing.T) {
	loop, err := evloop.New()
	require.NoError(t, err)
	defer loop.Close()

	_, err = Listen(loop, Options{Address: "not-an-address"})
	assert.Error(t, err)
	assert.Equal(t, 0, loop.Len())

	first, err := Listen(loop, Options{Address: "127.0.0.1:0"})
	require.NoError(t, err)
	_, err = Listen(loop, Options{Address: first.Addr().String()})
	assert.Error(t, err)
	assert.Equal(t, 1, loop.Len())
}

func TestRequestPath(t *testing.T) {
	tests := []struct {
		request  string
		expected string
	}{
		{"GET / HTTP/1.1\r\nHost: x\r\n\r\n", "/"},
		{"GET /health HTTP/1.1\r\n", "/health"},
		{"GET /health?x=1 HTTP/1.1\r\n", "/health"},
		{"POST /submit HTTP/1.0\n", "/submit"},
		{"garbage", "/"},
		{"GET http://example.com/ HTTP/1.1\r\n", "/"},
		{"", "/"},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, requestPath([]byte(test.request)), test.request)
	}
}

func TestResponseCache(t *testing.T) {
	cache, err := newResponseCache(1<<10, "fallback", map[string]string{"/a": "alpha"})
	require.NoError(t, err)
	defer cache.close()

	expected := "HTTP/1.1 200 OK\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: 5\r\nConnection: close\r\n\r\nalpha"
	assert.Equal(t, expected, string(cache.response("/a")))
	assert.Equal(t, expected, string(cache.response("/a")))
	assert.Equal(t, string(renderResponse("fallback")), string(cache.response("/b")))
	assert.Equal(t, string(cache.response("/b")), string(cache.response("/c")))
}

func TestOptionsFromConfig(t *testing.T) {
	config := evloop.DefaultConfig()
	config.Responder.EdgeTriggered = true
	config.Responder.Routes = []evloop.RouteConfig{{Path: "/health", Body: "ok"}}

	opts := OptionsFromConfig(config.Responder)
	assert.Equal(t, config.Responder.Address, opts.Address)
	assert.True(t, opts.EdgeTriggered)
	assert.Equal(t, map[string]string{"/health": "ok"}, opts.Routes)
	assert.Equal(t, config.Responder.CacheMaxCost, opts.CacheMaxCost)
}
