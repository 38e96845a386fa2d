// Package fakes provides test doubles for the hardware and network
// collaborators of the flasher.
package fakes

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
)

// ServerClient returns an HTTP client that sends every request to srv,
// whatever host the URL names. Tests use hosts with a TLD like
// "http://firmware.test/..." so that the references parse as URLs.
func ServerClient(srv *httptest.Server) *http.Client {
	addr := srv.Listener.Addr().String()

	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
				var d net.Dialer

				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

// FileServer serves fixed bodies by URL path and records every requested path.
// Unknown paths get a 404.
type FileServer struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	requests []string
}

// NewFileServer starts a FileServer. Callers must Close it.
func NewFileServer(files map[string][]byte) *FileServer {
	fs := &FileServer{files: files}
	fs.Server = httptest.NewServer(http.HandlerFunc(fs.serve))

	return fs
}

func (fs *FileServer) serve(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	fs.requests = append(fs.requests, r.URL.Path)
	body, ok := fs.files[r.URL.Path]
	fs.mu.Unlock()

	if !ok {
		http.NotFound(w, r)

		return
	}

	w.Write(body)
}

// Requests returns the paths requested so far.
func (fs *FileServer) Requests() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return append([]string(nil), fs.requests...)
}

// HTTPClient returns a client routed to the server, see ServerClient.
func (fs *FileServer) HTTPClient() *http.Client {
	return ServerClient(fs.Server)
}
