package internal

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/sebest/xff"
)

// RemoteXRealIP sets X-Real-Ip from the socket address of the connection.
// This is for deployments where seriald faces clients directly instead of
// sitting behind a reverse proxy.
func RemoteXRealIP(useRemoteAddress bool, bindNetwork string, next http.Handler) http.Handler {
	if !useRemoteAddress {
		return next
	}

	if bindNetwork == "unix" {
		// unix sockets have no meaningful peer address
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Set("X-Real-Ip", "127.0.0.1")
			next.ServeHTTP(w, r)
		})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		r.Header.Set("X-Real-Ip", host)
		next.ServeHTTP(w, r)
	})
}

// XForwardedForToXRealIP resolves the client address from X-Forwarded-For and
// fills in X-Real-Ip when the edge proxy did not set one itself. The xff
// middleware rewrites RemoteAddr to the nearest non-private hop.
func XForwardedForToXRealIP(next http.Handler) http.Handler {
	xffmw, err := xff.Default()
	if err != nil {
		slog.Error("can't construct X-Forwarded-For middleware, leaving headers untouched", "err", err)
		return next
	}

	return xffmw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Real-Ip") == "" {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if host != "" {
				r.Header.Set("X-Real-Ip", host)
			}
		}
		next.ServeHTTP(w, r)
	}))
}
