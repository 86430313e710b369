package responder

import (
	"github.com/dgraph-io/ristretto"
	"strconv"
)

const defaultRouteKey = "*"

// responseCache renders HTTP responses per route and keeps the rendered bytes
// in a cost-bounded cache. Unknown paths share the default route entry.
type responseCache struct {
	cache  *ristretto.Cache
	body   string
	routes map[string]string
}

func newResponseCache(maxCost int64, body string, routes map[string]string) (*responseCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(len(routes)+1) * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &responseCache{
		cache:  cache,
		body:   body,
		routes: routes,
	}, nil
}

func (c *responseCache) response(path string) []byte {
	key, body := defaultRouteKey, c.body
	if routeBody, ok := c.routes[path]; ok {
		key, body = path, routeBody
	}
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]byte)
	}
	rendered := renderResponse(body)
	c.cache.Set(key, rendered, int64(len(rendered)))
	return rendered
}

func (c *responseCache) close() {
	c.cache.Close()
}

func renderResponse(body string) []byte {
	return []byte("HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: close\r\n" +
		"\r\n" +
		body)
}
