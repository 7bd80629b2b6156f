// Package surface provides oauth.Surface implementations.
package surface

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/cli/browser"
	"go.uber.org/zap"

	"github.com/tnunamak/clawpulse/internal/logger"
	"github.com/tnunamak/clawpulse/internal/oauth"
)

type TerminalOptions struct {
	// Lines is the process-wide input shared by successive logins. When nil
	// a private reader over In is used.
	Lines *Lines
	In    io.Reader
	Out   io.Writer
	// RedirectURI turns a pasted bare code into the URL the browser would
	// have been sent to.
	RedirectURI string
	NoBrowser   bool
	// OpenURL defaults to browser.OpenURL.
	OpenURL func(url string) error
	Logger  *zap.Logger
}

type requestFilter struct {
	prefix string
	fn     oauth.NavigationFunc
}

// Terminal hosts the login in the system browser and takes the result back
// as pasted text. The authorization server shows the code on its callback
// page, so the user copies either that page's URL or the code itself.
type Terminal struct {
	lines       *Lines
	out         io.Writer
	redirectURI string
	noBrowser   bool
	open        func(string) error
	logger      *zap.Logger

	mu       sync.Mutex
	navigate oauth.NavigationFunc
	redirect oauth.NavigationFunc
	filters  []requestFilter
	onClosed func()

	done      chan struct{}
	closeOnce sync.Once
}

var _ oauth.Surface = (*Terminal)(nil)

func NewTerminal(opts TerminalOptions) *Terminal {
	t := &Terminal{
		lines:       opts.Lines,
		out:         opts.Out,
		redirectURI: opts.RedirectURI,
		noBrowser:   opts.NoBrowser,
		open:        opts.OpenURL,
		logger:      logger.OrNop(opts.Logger),
		done:        make(chan struct{}),
	}
	if t.lines == nil {
		t.lines = NewLines(opts.In)
	}
	if t.out == nil {
		t.out = os.Stdout
	}
	if t.open == nil {
		t.open = browser.OpenURL
	}
	return t
}

func (t *Terminal) OnWillNavigate(fn oauth.NavigationFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.navigate = fn
}

func (t *Terminal) OnWillRedirect(fn oauth.NavigationFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.redirect = fn
}

func (t *Terminal) OnBeforeRequest(prefix string, fn oauth.NavigationFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filters = append(t.filters, requestFilter{prefix: prefix, fn: fn})
}

func (t *Terminal) OnClosed(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClosed = fn
}

// Load opens authURL and starts reading pasted input. A browser that fails
// to open is not fatal; the URL is printed either way.
func (t *Terminal) Load(authURL string) error {
	fmt.Fprintf(t.out, "Open this URL to sign in:\n\n  %s\n\n", authURL)
	if !t.noBrowser {
		if err := t.open(authURL); err != nil {
			t.logger.Debug("open browser", zap.Error(err))
		}
	}
	fmt.Fprintln(t.out, "Paste the code or the callback URL shown after signing in (Ctrl-D to cancel).")
	go t.readLoop()
	return nil
}

// Close stops dispatching input. Lines not yet read are left for the next
// Terminal sharing the same input.
func (t *Terminal) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *Terminal) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Terminal) readLoop() {
	t.lines.start()
	for {
		if t.closed() {
			return
		}
		t.prompt()
		select {
		case <-t.done:
			return
		case <-t.lines.eof:
			if err := t.lines.Err(); err != nil {
				t.logger.Debug("read login input", zap.Error(err))
			}
			t.fireClosed()
			return
		case raw := <-t.lines.ch:
			line := strings.TrimSpace(raw)
			if line == "" {
				continue
			}
			if !t.dispatch(line) {
				fmt.Fprintln(t.out, "That is not a callback URL or code. Try again.")
			}
		}
	}
}

func (t *Terminal) fireClosed() {
	t.mu.Lock()
	fn := t.onClosed
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Terminal) prompt() {
	if t.lines.Interactive() {
		fmt.Fprint(t.out, "> ")
	}
}

// dispatch reports whether some hook intercepted the input.
func (t *Terminal) dispatch(line string) bool {
	t.mu.Lock()
	navigate, redirect := t.navigate, t.redirect
	filters := append([]requestFilter(nil), t.filters...)
	t.mu.Unlock()

	target, hook := line, navigate
	if !strings.Contains(line, "://") {
		target, hook = t.codeURL(line), redirect
	}
	if hook != nil && hook(target) {
		return true
	}
	for _, f := range filters {
		if strings.HasPrefix(target, f.prefix) && f.fn(target) {
			return true
		}
	}
	return false
}

// codeURL builds the callback URL for a pasted "code#state" value.
func (t *Terminal) codeURL(pasted string) string {
	code, state, _ := strings.Cut(pasted, "#")
	q := url.Values{"code": {code}}
	if state != "" {
		q.Set("state", state)
	}
	return t.redirectURI + "?" + q.Encode()
}
