package mcpserver

import (
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// transportMux serves Streamable HTTP clients and legacy SSE clients on the
// same path. Streamable requests are stateless, so every request gets a
// server bound to its own caller.
type transportMux struct {
	streamable http.Handler
	legacySSE  http.Handler
}

func newTransportMux(getServer func(*http.Request) *mcp.Server) *transportMux {
	return &transportMux{
		streamable: mcp.NewStreamableHTTPHandler(getServer, &mcp.StreamableHTTPOptions{Stateless: true}),
		legacySSE:  mcp.NewSSEHandler(getServer, nil),
	}
}

func (m *transportMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if wantsLegacySSE(r) {
		m.legacySSE.ServeHTTP(w, r)
		return
	}
	m.streamable.ServeHTTP(w, r)
}

// wantsLegacySSE matches the SSE stream request and the posts that follow it,
// which carry the session id in the query.
func wantsLegacySSE(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost:
		return r.URL.Query().Has("sessionid")
	case http.MethodGet:
		return acceptsEventStream(r)
	}
	return false
}

func acceptsEventStream(r *http.Request) bool {
	for _, header := range r.Header.Values("Accept") {
		for _, value := range strings.Split(header, ",") {
			mediaType, _, _ := strings.Cut(value, ";")
			if strings.TrimSpace(mediaType) == "text/event-stream" {
				return true
			}
		}
	}
	return false
}
