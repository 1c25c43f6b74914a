package cache

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/vova616/xxhash"
)

// Key identifies a cached response: one endpoint plus one request body.
type Key struct {
	// Endpoint is the full request URL
	Endpoint string

	// Payload is the JSON request body as sent
	Payload []byte
}

// String generates a deterministic cache key string.
// Format: et:host/path:payload-hash
//
// Example:
//
//	et:developer.openet-api.org/raster/timeseries/point:9f3c1a2b
func (k Key) String() string {
	parts := []string{"et"}

	endpoint := strings.TrimSpace(k.Endpoint)
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host + u.Path
	}
	endpoint = strings.Trim(endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	parts = append(parts, fmt.Sprintf("%08x", xxhash.Checksum32(k.Payload)))

	return strings.Join(parts, ":")
}
