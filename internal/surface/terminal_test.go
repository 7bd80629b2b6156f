package surface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tnunamak/clawpulse/internal/credentials"
	"github.com/tnunamak/clawpulse/internal/oauth"
)

const redirectURI = "https://console.anthropic.com/oauth/code/callback"

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	term   *Terminal
	input  *io.PipeWriter
	out    *syncBuffer
	opened chan string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	r, w := io.Pipe()
	t.Cleanup(func() { _ = w.Close() })
	h := &harness{input: w, out: &syncBuffer{}, opened: make(chan string, 1)}
	h.term = NewTerminal(TerminalOptions{
		In:          r,
		Out:         h.out,
		RedirectURI: redirectURI,
		OpenURL: func(u string) error {
			h.opened <- u
			return nil
		},
	})
	return h
}

func (h *harness) paste(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(h.input, line+"\n")
	require.NoError(t, err)
}

func TestTerminal_DispatchesPastedInput(t *testing.T) {
	h := newHarness(t)
	navigated := make(chan string, 1)
	redirected := make(chan string, 1)
	h.term.OnWillNavigate(func(u string) bool { navigated <- u; return true })
	h.term.OnWillRedirect(func(u string) bool { redirected <- u; return true })

	require.NoError(t, h.term.Load("https://claude.ai/oauth/authorize?x=1"))
	assert.Equal(t, "https://claude.ai/oauth/authorize?x=1", <-h.opened)

	h.paste(t, "  "+redirectURI+"?code=full  ")
	assert.Equal(t, redirectURI+"?code=full", <-navigated)

	h.paste(t, "abc#st")
	got, err := url.Parse(<-redirected)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Query().Get("code"))
	assert.Equal(t, "st", got.Query().Get("state"))
	assert.Contains(t, h.out.String(), "https://claude.ai/oauth/authorize?x=1")
}

func TestTerminal_FallsThroughToRequestFilters(t *testing.T) {
	h := newHarness(t)
	filtered := make(chan string, 1)
	h.term.OnWillNavigate(func(string) bool { return false })
	h.term.OnBeforeRequest(redirectURI, func(u string) bool { filtered <- u; return true })
	h.term.OnBeforeRequest("https://elsewhere.example", func(string) bool {
		t.Error("filter with another prefix must not run")
		return true
	})

	require.NoError(t, h.term.Load("https://claude.ai/oauth/authorize"))
	h.paste(t, redirectURI+"?code=x")
	assert.Equal(t, redirectURI+"?code=x", <-filtered)
}

func TestTerminal_EOFFiresClosed(t *testing.T) {
	h := newHarness(t)
	closed := make(chan struct{})
	h.term.OnClosed(func() { close(closed) })

	require.NoError(t, h.term.Load("https://claude.ai/oauth/authorize"))
	require.NoError(t, h.input.Close())

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("closed hook did not fire")
	}
}

func TestTerminal_NoClosedHookAfterClose(t *testing.T) {
	h := newHarness(t)
	closed := make(chan struct{}, 1)
	h.term.OnClosed(func() { closed <- struct{}{} })

	require.NoError(t, h.term.Load("https://claude.ai/oauth/authorize"))
	h.term.Close()
	h.term.Close()
	require.NoError(t, h.input.Close())

	select {
	case <-closed:
		t.Fatal("closed hook fired after Close")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTerminal_BrowserFailureIsNotFatal(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	term := NewTerminal(TerminalOptions{
		In:      r,
		Out:     io.Discard,
		OpenURL: func(string) error { return errors.New("no browser") },
	})
	assert.NoError(t, term.Load("https://claude.ai/oauth/authorize"))
}

func TestTerminal_LoginEndToEnd(t *testing.T) {
	var gotCode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Code string `json:"code"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotCode = body.Code
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":60}`))
	}))
	defer srv.Close()

	store := credentials.NewStore(filepath.Join(t.TempDir(), ".credentials.json"), nil)
	flow := oauth.NewFlow(oauth.FlowOptions{
		ClientID:     "client-id",
		AuthorizeURL: "https://claude.ai/oauth/authorize",
		TokenURL:     srv.URL,
		RedirectURI:  redirectURI,
		Scopes:       []string{"user:inference"},
		Timeout:      time.Minute,
		HTTPClient:   srv.Client(),
		Store:        store,
	})

	h := newHarness(t)
	done := make(chan error, 1)
	go func() {
		_, err := flow.Login(context.Background(), h.term)
		done <- err
	}()

	authURL, err := url.Parse(<-h.opened)
	require.NoError(t, err)
	h.paste(t, "the-code#"+authURL.Query().Get("state"))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("login did not settle")
	}
	assert.Equal(t, "the-code", gotCode)

	rec, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, "at", rec.AccessToken)
}

func TestTerminal_LoginCancelledByEOF(t *testing.T) {
	store := credentials.NewStore(filepath.Join(t.TempDir(), ".credentials.json"), nil)
	flow := oauth.NewFlow(oauth.FlowOptions{
		ClientID:     "client-id",
		AuthorizeURL: "https://claude.ai/oauth/authorize",
		TokenURL:     "http://127.0.0.1:1/unused",
		RedirectURI:  redirectURI,
		Timeout:      time.Minute,
		Store:        store,
	})

	h := newHarness(t)
	done := make(chan error, 1)
	go func() {
		_, err := flow.Login(context.Background(), h.term)
		done <- err
	}()
	<-h.opened
	require.NoError(t, h.input.Close())

	select {
	case err := <-done:
		assert.True(t, oauth.IsKind(err, oauth.KindWindowClosed))
	case <-time.After(5 * time.Second):
		t.Fatal("login did not settle")
	}
}

func TestTerminal_RetryAfterCloseReceivesNextLine(t *testing.T) {
	r, w := io.Pipe()
	t.Cleanup(func() { _ = w.Close() })
	lines := NewLines(r)
	newTerm := func() *Terminal {
		return NewTerminal(TerminalOptions{
			Lines:       lines,
			Out:         io.Discard,
			RedirectURI: redirectURI,
			OpenURL:     func(string) error { return nil },
		})
	}

	first := newTerm()
	first.OnWillRedirect(func(string) bool {
		t.Error("closed terminal received input")
		return true
	})
	require.NoError(t, first.Load("https://claude.ai/oauth/authorize"))
	first.Close()

	second := newTerm()
	redirected := make(chan string, 1)
	second.OnWillRedirect(func(u string) bool { redirected <- u; return true })
	require.NoError(t, second.Load("https://claude.ai/oauth/authorize"))

	_, err := io.WriteString(w, "thecode#state\n")
	require.NoError(t, err)

	select {
	case u := <-redirected:
		got, err := url.Parse(u)
		require.NoError(t, err)
		assert.Equal(t, "thecode", got.Query().Get("code"))
	case <-time.After(5 * time.Second):
		t.Fatal("second terminal did not receive the pasted line")
	}
}

func TestTerminal_SharedInputAtEOFClosesImmediately(t *testing.T) {
	r, w := io.Pipe()
	lines := NewLines(r)
	require.NoError(t, w.Close())

	for i := 0; i < 2; i++ {
		term := NewTerminal(TerminalOptions{Lines: lines, Out: io.Discard, OpenURL: func(string) error { return nil }})
		closed := make(chan struct{})
		term.OnClosed(func() { close(closed) })
		require.NoError(t, term.Load("https://claude.ai/oauth/authorize"))
		select {
		case <-closed:
		case <-time.After(5 * time.Second):
			t.Fatalf("attempt %d: closed hook did not fire", i)
		}
	}
}
