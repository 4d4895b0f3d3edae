package web

import "sync"

// Redirector implements treegive.Navigator for the web surface. The core
// calls it where a browser would perform a full navigation; the handler
// picks the target up and returns it to the caller as a redirect.
type Redirector struct {
	mu     sync.Mutex
	target string
}

// Navigate records the navigation target.
func (r *Redirector) Navigate(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = url
}

// Take returns the pending navigation target, clearing it.
func (r *Redirector) Take() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.target
	r.target = ""
	return t
}
