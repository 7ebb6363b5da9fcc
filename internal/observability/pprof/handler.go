package pprof

import (
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
)

// newMux builds the route table: a liveness probe plus the pprof handlers
// mounted under prefix.
func newMux(prefix, token string) *http.ServeMux {
	mux := http.NewServeMux()
	guard := func(h http.HandlerFunc) http.HandlerFunc { return requireToken(token, h) }

	mux.HandleFunc("/healthz", guard(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	root := strings.TrimSuffix(prefix, "/")
	mux.HandleFunc(prefix, guard(indexUnder(prefix)))
	mux.HandleFunc(root+"/cmdline", guard(hpprof.Cmdline))
	mux.HandleFunc(root+"/profile", guard(hpprof.Profile))
	mux.HandleFunc(root+"/symbol", guard(hpprof.Symbol))
	mux.HandleFunc(root+"/trace", guard(hpprof.Trace))

	// The prefix without its trailing slash redirects to the canonical form.
	mux.HandleFunc(root, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
	})
	return mux
}

// requireToken wraps h with token auth. The token is accepted either as
// "Authorization: Bearer <token>" or as a ?token= query parameter. An empty
// configured token disables the check.
func requireToken(token string, h http.HandlerFunc) http.HandlerFunc {
	want := strings.TrimSpace(token)
	if want == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == want {
				h(w, r)
				return
			}
			deny(w)
			return
		}
		const scheme = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, scheme) {
			if strings.TrimSpace(strings.TrimPrefix(ah, scheme)) == want {
				h(w, r)
				return
			}
		}
		deny(w)
	}
}

func deny(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// canonPrefix returns the mount prefix with exactly one leading and trailing
// slash, defaulting to /debug/pprof/.
func canonPrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		return "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// indexUnder adapts hpprof.Index, which expects paths rooted at
// /debug/pprof/, to an arbitrary mount prefix.
func indexUnder(prefix string) http.HandlerFunc {
	canon := canonPrefix(prefix)
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, canon)
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + rest
		hpprof.Index(w, r2)
	}
}

// isLoopbackAddr reports whether a host:port bind address targets only the
// loopback interface. Empty and wildcard hosts bind all interfaces and
// return false.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
