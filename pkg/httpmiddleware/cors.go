package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	// AllowOrigins lists origins permitted to call the API from a
	// browser. Empty, or a single "*", allows every origin.
	AllowOrigins []string

	// AllowMethods is sent on preflight responses. When empty, all
	// methods the API serves are advertised, including PATCH for the
	// order status route.
	AllowMethods []string

	// AllowHeaders is sent on preflight responses. When empty, the
	// headers the client asked for are echoed back.
	AllowHeaders []string

	// ExposeHeaders lists response headers scripts may read.
	ExposeHeaders []string

	// AllowCredentials permits cookies and Authorization headers on
	// cross-origin calls. The CORS spec forbids combining this with a
	// wildcard origin, so enabling it forces exact origin matching.
	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds. Zero omits the
	// header; negative sends "0" to disable caching.
	MaxAge int
}

// cors holds the header values precomputed from config so the hot path
// only does map lookups and header writes.
type cors struct {
	wildcard bool
	origins  map[string]string // lowercased origin -> configured spelling

	allowMethods  string
	allowHeaders  string
	exposeHeaders string
	credentials   bool
	maxAge        string
}

// CORS returns a middleware implementing the Fetch-standard CORS
// protocol: preflights are answered with 204 and the configured allow
// headers, actual requests get Access-Control-Allow-Origin, and Vary is
// maintained so shared caches never serve one origin's response to
// another.
func CORS(cfg CORSConfig) Middleware {
	c := &cors{
		wildcard:      len(cfg.AllowOrigins) == 0,
		origins:       make(map[string]string, len(cfg.AllowOrigins)),
		allowMethods:  strings.Join(cfg.AllowMethods, ", "),
		allowHeaders:  strings.Join(cfg.AllowHeaders, ", "),
		exposeHeaders: strings.Join(cfg.ExposeHeaders, ", "),
		credentials:   cfg.AllowCredentials,
	}
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			c.wildcard = true
			break
		}
		c.origins[strings.ToLower(o)] = o
	}
	if c.credentials {
		// Wildcard + credentials is rejected by browsers; match and
		// echo the exact origin instead.
		c.wildcard = false
	}
	if c.allowMethods == "" {
		c.allowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	}
	switch {
	case cfg.MaxAge > 0:
		c.maxAge = strconv.Itoa(cfg.MaxAge)
	case cfg.MaxAge < 0:
		c.maxAge = "0"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.handle(w, r, next)
		})
	}
}

func (c *cors) handle(w http.ResponseWriter, r *http.Request, next http.Handler) {
	origin := r.Header.Get("Origin")

	// Same-origin or non-browser traffic. Still vary on Origin when
	// responses differ per origin, so caches stay correct.
	if origin == "" {
		if !c.wildcard {
			w.Header().Add("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
		return
	}

	allowOrigin := c.resolveOrigin(origin)

	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		c.preflight(w, r, allowOrigin)
		return
	}

	if !c.wildcard {
		w.Header().Add("Vary", "Origin")
	}
	if allowOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		if c.credentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if c.exposeHeaders != "" {
			w.Header().Set("Access-Control-Expose-Headers", c.exposeHeaders)
		}
	}
	next.ServeHTTP(w, r)
}

func (c *cors) preflight(w http.ResponseWriter, r *http.Request, allowOrigin string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")

	// Disallowed origin: answer the preflight but grant nothing.
	if allowOrigin == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.Set("Access-Control-Allow-Origin", allowOrigin)
	h.Set("Access-Control-Allow-Methods", c.allowMethods)

	if c.allowHeaders != "" {
		h.Set("Access-Control-Allow-Headers", c.allowHeaders)
	} else if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
		h.Set("Access-Control-Allow-Headers", requested)
	}
	if c.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if c.maxAge != "" {
		h.Set("Access-Control-Max-Age", c.maxAge)
	}

	w.WriteHeader(http.StatusNoContent)
}

// resolveOrigin returns the Access-Control-Allow-Origin value for the
// request origin, or "" when the origin is not allowed. Matching is
// case-insensitive but the configured spelling is echoed.
func (c *cors) resolveOrigin(origin string) string {
	if c.wildcard {
		return "*"
	}
	return c.origins[strings.ToLower(origin)]
}
