package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
)

// NewCheckOrigin returns a CheckOrigin function for the upgrader.
// It allows empty origins (non-browser clients), any origin in allowed (exact
// scheme://host[:port] match, or "*" for all) and the app's own origin.
// When isDevelopment is true, localhost origins are additionally allowed.
func NewCheckOrigin(appURL string, allowed []string, isDevelopment bool) func(r *http.Request) bool {
	origins := make([]string, 0, len(allowed)+1)
	wildcard := false
	for _, a := range append([]string{appURL}, allowed...) {
		if a == "*" {
			wildcard = true
			continue
		}
		if o := extractOrigin(a); o != "" {
			origins = append(origins, o)
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		if origin == "" || wildcard {
			return true
		}

		if slices.Contains(origins, extractOrigin(origin)) {
			return true
		}

		if isDevelopment && isLocalhostOrigin(origin) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}
