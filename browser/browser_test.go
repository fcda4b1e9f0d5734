package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4c3e/rip-demo-1/address"
	"github.com/4c3e/rip-demo-1/gemtext"
	"github.com/4c3e/rip-demo-1/overlay"
	"github.com/4c3e/rip-demo-1/render/terminal"
)

const (
	destA = "0123456789abcdef0123"
	destB = "aaaaaaaaaaaaaaaaaaaa"
)

// fakeNetwork serves pages from memory. A destination becomes known once a
// path is requested for it, as if its owner answered.
type fakeNetwork struct {
	mu     sync.Mutex
	pages  map[overlay.Hash]map[string]string
	known  map[overlay.Hash]bool
	opened []overlay.Hash
	links  []*fakeLink
	closed bool
	// isolated makes RequestPath report that there is nobody to ask.
	isolated bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		pages: map[overlay.Hash]map[string]string{},
		known: map[overlay.Hash]bool{},
	}
}

func (n *fakeNetwork) serve(dest, path, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, _ := overlay.ParseHash(dest)
	if n.pages[h] == nil {
		n.pages[h] = map[string]string{}
	}
	n.pages[h][path] = body
}

func (n *fakeNetwork) remove(dest, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, _ := overlay.ParseHash(dest)
	delete(n.pages[h], path)
}

func (n *fakeNetwork) HasPath(h overlay.Hash) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.known[h]
}

func (n *fakeNetwork) RequestPath(h overlay.Hash) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.isolated {
		return fmt.Errorf("%w: %w", overlay.ErrPathUnknown, overlay.ErrNoPeers)
	}
	if _, ok := n.pages[h]; ok {
		n.known[h] = true
	}
	return nil
}

func (n *fakeNetwork) AwaitPath(ctx context.Context, h overlay.Hash) error {
	if n.HasPath(h) {
		return nil
	}
	<-ctx.Done()
	return fmt.Errorf("%w: %w", overlay.ErrPathUnknown, ctx.Err())
}

func (n *fakeNetwork) OpenLink(h overlay.Hash, cb LinkCallbacks) (Link, error) {
	n.mu.Lock()
	l := &fakeLink{net: n, dest: h, cb: cb}
	n.opened = append(n.opened, h)
	n.links = append(n.links, l)
	n.mu.Unlock()
	go cb.Established(l)
	return l, nil
}

func (n *fakeNetwork) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func (n *fakeNetwork) openCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.opened)
}

func (n *fakeNetwork) lastLink() *fakeLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.links[len(n.links)-1]
}

type fakeLink struct {
	net  *fakeNetwork
	dest overlay.Hash
	cb   LinkCallbacks

	once     sync.Once
	mu       sync.Mutex
	reason   overlay.TeardownReason
	requests int
}

func (l *fakeLink) Request(path string, timeout time.Duration, onResponse func([]byte), onFailed func(error)) error {
	l.mu.Lock()
	l.requests++
	closed := l.reason != overlay.ReasonNone
	l.mu.Unlock()
	if closed {
		return overlay.ErrLinkClosed
	}

	l.net.mu.Lock()
	body, ok := l.net.pages[l.dest][path]
	l.net.mu.Unlock()

	switch {
	case path == "/hang":
		time.AfterFunc(timeout, func() { onFailed(overlay.ErrRequestTimeout) })
	case ok:
		go onResponse([]byte(body))
	default:
		go onFailed(fmt.Errorf("%w: no handler for %s", overlay.ErrRequestFailed, path))
	}
	return nil
}

func (l *fakeLink) Identify(*overlay.Identity) error { return nil }

func (l *fakeLink) Teardown() { l.close(overlay.InitiatorClosed) }

func (l *fakeLink) close(reason overlay.TeardownReason) {
	l.once.Do(func() {
		l.mu.Lock()
		l.reason = reason
		l.mu.Unlock()
		l.cb.Closed(l, reason)
	})
}

func (l *fakeLink) teardownReason() overlay.TeardownReason {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

func newBrowser(t *testing.T, n *fakeNetwork) (*Browser, *bytes.Buffer) {
	t.Helper()
	s := NewSession(n)
	s.SetLogger(log.New(io.Discard))
	s.PathTimeout = 200 * time.Millisecond
	s.PathRetry = 20 * time.Millisecond
	s.RequestTimeout = 100 * time.Millisecond

	var out bytes.Buffer
	b := New(s, terminal.New(), &out)
	b.logger = log.New(io.Discard)
	b.Grace = 0
	return b, &out
}

func url(dest, path string) string {
	return "rip://" + dest + path
}

func site(n *fakeNetwork) {
	n.serve(destA, "/index.gem", "text/gemini\n# Home\n=> /a.gem Link A\n=> b.gem\nHello world\n")
	n.serve(destA, "/a.gem", "text/gemini\nPage A\n=> /index.gem Home\n")
	n.serve(destA, "/b.gem", "text/gemini\nPage B\n")
	n.serve(destA, "/page.html", "text/html\n<p>nope</p>\n")
	n.serve(destB, "/index.gem", "text/gemini\nOther server\n")
}

func TestNavigateRendersPage(t *testing.T) {
	n := newFakeNetwork()
	site(n)
	b, out := newBrowser(t, n)

	require.NoError(t, b.Navigate(context.Background(), destA))

	text := ansi.Strip(out.String())
	assert.Contains(t, text, "[1] Link A")
	assert.Contains(t, text, "[2] "+url(destA, "/b.gem"))
	assert.Contains(t, text, "Hello world")
	assert.Equal(t, []string{url(destA, "/index.gem")}, b.History.Entries())
	require.NotNil(t, b.Page())
	assert.Len(t, b.Page().Menu, 2)
}

func TestRunLine(t *testing.T) {
	n := newFakeNetwork()
	site(n)
	b, out := newBrowser(t, n)
	ctx := context.Background()

	t.Run("blank input is ignored", func(t *testing.T) {
		assert.NoError(t, b.RunLine(ctx, "   "))
		assert.Equal(t, 0, b.History.Len())
	})

	t.Run("destination and path pair", func(t *testing.T) {
		require.NoError(t, b.RunLine(ctx, destA+" b.gem"))
		cur, ok := b.History.Current()
		require.True(t, ok)
		assert.Equal(t, url(destA, "/b.gem"), cur)
	})

	t.Run("literal url", func(t *testing.T) {
		require.NoError(t, b.RunLine(ctx, url(destA, "/")))
		cur, _ := b.History.Current()
		assert.Equal(t, url(destA, "/index.gem"), cur)
	})

	t.Run("numeric selection", func(t *testing.T) {
		out.Reset()
		require.NoError(t, b.RunLine(ctx, "1"))
		cur, _ := b.History.Current()
		assert.Equal(t, url(destA, "/a.gem"), cur)
		assert.Contains(t, ansi.Strip(out.String()), "Page A")
	})

	t.Run("menu resets per page", func(t *testing.T) {
		err := b.RunLine(ctx, "2")
		assert.ErrorIs(t, err, ErrMenuIndex)
		cur, _ := b.History.Current()
		assert.Equal(t, url(destA, "/a.gem"), cur)
	})

	t.Run("out of range", func(t *testing.T) {
		assert.ErrorIs(t, b.RunLine(ctx, "0"), ErrMenuIndex)
		assert.ErrorIs(t, b.RunLine(ctx, "99"), ErrMenuIndex)
	})

	t.Run("malformed destination", func(t *testing.T) {
		assert.ErrorIs(t, b.RunLine(ctx, "not-a-hash"), address.ErrMalformedDestination)
	})

	t.Run("quit", func(t *testing.T) {
		assert.ErrorIs(t, b.RunLine(ctx, "q"), ErrQuit)
		assert.ErrorIs(t, b.RunLine(ctx, " Q "), ErrQuit)
	})
}

func TestFollowWithoutPage(t *testing.T) {
	b, _ := newBrowser(t, newFakeNetwork())
	assert.ErrorIs(t, b.Follow(context.Background(), 1), ErrMenuIndex)
}

func TestUnsupportedContentType(t *testing.T) {
	n := newFakeNetwork()
	site(n)
	b, out := newBrowser(t, n)
	ctx := context.Background()

	require.NoError(t, b.Navigate(ctx, destA))
	before := b.Page()
	out.Reset()

	err := b.Navigate(ctx, url(destA, "/page.html"))
	assert.ErrorIs(t, err, gemtext.ErrUnsupportedContentType)
	assert.Same(t, before, b.Page())
	assert.Equal(t, 1, b.History.Len())
	assert.Empty(t, out.String())

	b.Report(err)
	assert.Contains(t, ansi.Strip(out.String()), "unsupported content type")
}

func TestBack(t *testing.T) {
	ctx := context.Background()

	t.Run("one page back", func(t *testing.T) {
		n := newFakeNetwork()
		site(n)
		b, _ := newBrowser(t, n)
		for _, p := range []string{"/index.gem", "/a.gem", "/b.gem"} {
			require.NoError(t, b.Navigate(ctx, url(destA, p)))
		}

		require.NoError(t, b.RunLine(ctx, "b"))
		assert.Equal(t, []string{url(destA, "/index.gem"), url(destA, "/a.gem")}, b.History.Entries())
		assert.Equal(t, url(destA, "/a.gem"), b.Page().URL)

		require.NoError(t, b.RunLine(ctx, "B"))
		assert.Equal(t, []string{url(destA, "/index.gem")}, b.History.Entries())
	})

	t.Run("underflow", func(t *testing.T) {
		n := newFakeNetwork()
		site(n)
		b, _ := newBrowser(t, n)
		assert.ErrorIs(t, b.Back(ctx), ErrHistoryUnderflow)

		require.NoError(t, b.Navigate(ctx, destA))
		assert.ErrorIs(t, b.Back(ctx), ErrHistoryUnderflow)
		assert.Equal(t, 1, b.History.Len())
	})

	t.Run("failure restores history", func(t *testing.T) {
		n := newFakeNetwork()
		site(n)
		b, _ := newBrowser(t, n)
		for _, p := range []string{"/index.gem", "/a.gem", "/b.gem"} {
			require.NoError(t, b.Navigate(ctx, url(destA, p)))
		}
		n.remove(destA, "/a.gem")

		err := b.Back(ctx)
		assert.ErrorIs(t, err, overlay.ErrRequestFailed)
		assert.Equal(t, []string{
			url(destA, "/index.gem"),
			url(destA, "/a.gem"),
			url(destA, "/b.gem"),
		}, b.History.Entries())
		assert.Equal(t, url(destA, "/b.gem"), b.Page().URL)
	})
}

func TestSessionLinkReuse(t *testing.T) {
	n := newFakeNetwork()
	site(n)
	b, _ := newBrowser(t, n)
	ctx := context.Background()

	require.NoError(t, b.Navigate(ctx, url(destA, "/index.gem")))
	require.NoError(t, b.Navigate(ctx, url(destA, "/a.gem")))
	assert.Equal(t, 1, n.openCount())
	first := n.lastLink()

	require.NoError(t, b.Navigate(ctx, url(destB, "/")))
	assert.Equal(t, 2, n.openCount())
	assert.Equal(t, overlay.InitiatorClosed, first.teardownReason())

	select {
	case err := <-b.Session.Closed():
		t.Fatalf("replacing a link reported a close: %v", err)
	default:
	}
}

func TestSessionRequestFailureKeepsLink(t *testing.T) {
	n := newFakeNetwork()
	site(n)
	b, _ := newBrowser(t, n)
	ctx := context.Background()

	require.NoError(t, b.Navigate(ctx, destA))
	assert.ErrorIs(t, b.Navigate(ctx, url(destA, "/missing.gem")), overlay.ErrRequestFailed)
	assert.ErrorIs(t, b.Navigate(ctx, url(destA, "/hang")), overlay.ErrRequestTimeout)
	require.NoError(t, b.Navigate(ctx, url(destA, "/a.gem")))

	assert.Equal(t, 1, n.openCount())
	assert.Equal(t, overlay.ReasonNone, n.lastLink().teardownReason())
}

func TestSessionPathUnknown(t *testing.T) {
	b, _ := newBrowser(t, newFakeNetwork())

	start := time.Now()
	err := b.Navigate(context.Background(), destA)
	assert.ErrorIs(t, err, overlay.ErrPathUnknown)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, 0, b.History.Len())
}

func TestSessionNoPeersHint(t *testing.T) {
	n := newFakeNetwork()
	n.isolated = true
	b, _ := newBrowser(t, n)
	var logs bytes.Buffer
	b.Session.SetLogger(log.New(&logs))

	err := b.Navigate(context.Background(), destA)
	assert.ErrorIs(t, err, overlay.ErrPathUnknown)
	assert.Equal(t, 1, strings.Count(logs.String(), "set --peer or --group"))
}

func TestSessionUnexpectedClose(t *testing.T) {
	for _, tt := range []struct {
		reason overlay.TeardownReason
		msg    string
	}{
		{overlay.DestinationClosed, "closed by the server"},
		{overlay.Timeout, "timed out"},
	} {
		t.Run(tt.reason.String(), func(t *testing.T) {
			n := newFakeNetwork()
			site(n)
			b, _ := newBrowser(t, n)
			require.NoError(t, b.Navigate(context.Background(), destA))

			n.lastLink().close(tt.reason)

			select {
			case err := <-b.Session.Closed():
				var lce *LinkClosedError
				require.True(t, errors.As(err, &lce))
				assert.Equal(t, tt.reason, lce.Reason)
				assert.ErrorIs(t, err, overlay.ErrLinkClosed)
				assert.Contains(t, err.Error(), tt.msg)
			case <-time.After(time.Second):
				t.Fatal("close not reported")
			}
		})
	}
}

func TestSessionCloseIsNotReported(t *testing.T) {
	n := newFakeNetwork()
	site(n)
	b, _ := newBrowser(t, n)
	require.NoError(t, b.Navigate(context.Background(), destA))

	b.Session.Close()
	assert.Equal(t, overlay.InitiatorClosed, n.lastLink().teardownReason())
	select {
	case err := <-b.Session.Closed():
		t.Fatalf("unexpected close report: %v", err)
	default:
	}
}

func TestRun(t *testing.T) {
	t.Run("commands until quit", func(t *testing.T) {
		n := newFakeNetwork()
		site(n)
		b, out := newBrowser(t, n)
		b.Prompt = true

		in := strings.NewReader(destA + "\n9\n1\nq\n" + url(destA, "/b.gem") + "\n")
		require.NoError(t, b.Run(context.Background(), in))

		text := ansi.Strip(out.String())
		assert.Contains(t, text, "> ")
		assert.Contains(t, text, "no such link: 9")
		assert.Contains(t, text, "Page A")
		assert.NotContains(t, text, "Page B")
		assert.Equal(t, overlay.InitiatorClosed, n.lastLink().teardownReason())
	})

	t.Run("end of input", func(t *testing.T) {
		b, _ := newBrowser(t, newFakeNetwork())
		assert.NoError(t, b.Run(context.Background(), strings.NewReader("")))
	})

	t.Run("context cancelled", func(t *testing.T) {
		b, _ := newBrowser(t, newFakeNetwork())
		pr, pw := io.Pipe()
		defer pw.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, b.Run(ctx, pr), context.DeadlineExceeded)
	})

	t.Run("unexpected link close ends the loop", func(t *testing.T) {
		n := newFakeNetwork()
		site(n)
		b, out := newBrowser(t, n)
		require.NoError(t, b.Navigate(context.Background(), destA))
		n.lastLink().close(overlay.DestinationClosed)

		pr, pw := io.Pipe()
		defer pw.Close()

		err := b.Run(context.Background(), pr)
		assert.ErrorIs(t, err, overlay.ErrLinkClosed)
		assert.Contains(t, ansi.Strip(out.String()), "closed by the server")

		n.mu.Lock()
		defer n.mu.Unlock()
		assert.True(t, n.closed)
	})
}

func TestHistory(t *testing.T) {
	var h History
	_, ok := h.Current()
	assert.False(t, ok)

	h.Push("u1")
	h.Push("u2")
	h.Push("u3")

	prev, cur, err := h.Back()
	require.NoError(t, err)
	assert.Equal(t, "u2", prev)
	assert.Equal(t, "u3", cur)
	assert.Equal(t, []string{"u1"}, h.Entries())

	h.Restore(prev, cur)
	assert.Equal(t, []string{"u1", "u2", "u3"}, h.Entries())

	h.Entries()[0] = "changed"
	assert.Equal(t, "u1", h.Entries()[0])
}
