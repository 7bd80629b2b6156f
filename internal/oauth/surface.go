package oauth

// NavigationFunc observes a navigation toward url and reports whether it
// was intercepted. An intercepted navigation must not proceed.
type NavigationFunc func(url string) bool

// Surface is a browser-capable surface that can host the authorization page.
// Different engines fire different hooks first for the same navigation, so
// Flow listens on all of them.
type Surface interface {
	// OnWillNavigate fires before a user or page initiated navigation.
	OnWillNavigate(fn NavigationFunc)
	// OnWillRedirect fires when a server redirect is about to be followed.
	OnWillRedirect(fn NavigationFunc)
	// OnBeforeRequest fires for every outgoing request whose URL starts
	// with prefix.
	OnBeforeRequest(prefix string, fn NavigationFunc)
	// OnClosed fires when the user closes the surface.
	OnClosed(fn func())

	Load(url string) error
	// Close must be safe to call more than once.
	Close()
}
