// Package discoverytest provides in-memory fakes of discovery.Client for
// tests, grounded on original_source/linkerd/app/test/src/resolver.rs's
// Resolver/Handle split: a handle the test holds to push profile and
// endpoint updates, and a client the code under test consumes.
package discoverytest

import (
	"context"
	"sync"

	"github.com/linkerd-sidecar/meshcore/internal/discovery"
	"github.com/linkerd-sidecar/meshcore/internal/errkind"
)

// Client is an in-memory discovery.Client whose profiles and endpoint
// streams are seeded and updated by the test via Handle.
type Client struct {
	mu       sync.Mutex
	profiles map[string]*fakeProfileWatch
	resolves map[string]*fakeEndpointStream
}

// New returns an empty fake client; use SeedProfile/SeedResolve (and the
// returned handles' Push methods after a Get/Resolve call) to drive it.
func New() *Client {
	return &Client{
		profiles: make(map[string]*fakeProfileWatch),
		resolves: make(map[string]*fakeEndpointStream),
	}
}

// SeedProfile registers the watch the next GetProfile(name) call will
// return, replacing any watch previously seeded under name.
func (c *Client) SeedProfile(name string, initial discovery.Profile) *ProfileHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &fakeProfileWatch{current: initial, updates: make(chan discovery.Profile, 16)}
	c.profiles[name] = w
	return &ProfileHandle{w: w}
}

// SeedResolve registers the endpoint stream the next Resolve(addr) call
// will return.
func (c *Client) SeedResolve(addr string) *ResolveHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeEndpointStream{updates: make(chan discovery.Update, 16), done: make(chan struct{})}
	c.resolves[addr] = s
	return &ResolveHandle{s: s}
}

func (c *Client) GetProfile(ctx context.Context, logicalName string) (discovery.ProfileWatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.profiles[logicalName]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "no profile seeded for "+logicalName)
	}
	return w, nil
}

func (c *Client) Resolve(ctx context.Context, concreteAddr string) (discovery.EndpointStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.resolves[concreteAddr]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "no resolve stream seeded for "+concreteAddr)
	}
	return s, nil
}

// ProfileHandle lets a test push profile snapshots after the code under
// test has already called GetProfile.
type ProfileHandle struct{ w *fakeProfileWatch }

func (h *ProfileHandle) Push(p discovery.Profile) {
	h.w.mu.Lock()
	h.w.current = p
	h.w.mu.Unlock()
	h.w.updates <- p
}

func (h *ProfileHandle) CloseWatch() { h.w.Close() }

type fakeProfileWatch struct {
	mu      sync.Mutex
	current discovery.Profile
	updates chan discovery.Profile
	closed  bool
}

func (w *fakeProfileWatch) Current() discovery.Profile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *fakeProfileWatch) Updates() <-chan discovery.Profile { return w.updates }

func (w *fakeProfileWatch) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.updates)
	}
}

// ResolveHandle lets a test push endpoint-stream updates after the code
// under test has already called Resolve.
type ResolveHandle struct{ s *fakeEndpointStream }

func (h *ResolveHandle) Push(u discovery.Update) { h.s.updates <- u }

func (h *ResolveHandle) CloseStream() { h.s.Close() }

type fakeEndpointStream struct {
	updates chan discovery.Update
	done    chan struct{}
	once    sync.Once
}

func (s *fakeEndpointStream) Recv(ctx context.Context) (discovery.Update, error) {
	select {
	case u, ok := <-s.updates:
		if !ok {
			return discovery.Update{}, errkind.New(errkind.Io, "endpoint stream closed")
		}
		return u, nil
	case <-s.done:
		return discovery.Update{}, errkind.New(errkind.Io, "endpoint stream closed")
	case <-ctx.Done():
		return discovery.Update{}, errkind.New(errkind.Cancelled, "endpoint stream recv cancelled")
	}
}

func (s *fakeEndpointStream) Close() {
	s.once.Do(func() { close(s.done) })
}
