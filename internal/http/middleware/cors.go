package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

const defaultCORSMaxAgeSeconds = 600

var (
	defaultCORSAllowedMethods = []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodPost,
		http.MethodDelete,
		http.MethodOptions,
	}
	defaultCORSAllowedHeaders = []string{
		"Accept",
		"Authorization",
		"Content-Type",
		"X-Filename",
		"X-Request-Id",
		"X-User-Id",
	}
	// Browsers hide these from the recording page unless exposed.
	defaultCORSExposedHeaders = []string{
		"Location",
		"Retry-After",
		"X-Request-Id",
	}
)

type CORSConfig struct {
	// AllowedOrigins accepts exact origins, "*" and single-label wildcards
	// such as "https://*.coach.example".
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	MaxAgeSeconds  int
}

type originMatcher struct {
	any      bool
	exact    map[string]struct{}
	prefixes []string
	suffixes []string
}

func newOriginMatcher(origins []string) originMatcher {
	matcher := originMatcher{exact: make(map[string]struct{})}
	for _, origin := range normalizeStringList(origins) {
		origin = strings.ToLower(origin)
		switch {
		case origin == "*":
			matcher.any = true
		case strings.Contains(origin, "://*."):
			scheme, host, _ := strings.Cut(origin, "*")
			matcher.prefixes = append(matcher.prefixes, scheme)
			matcher.suffixes = append(matcher.suffixes, host)
		default:
			matcher.exact[origin] = struct{}{}
		}
	}
	return matcher
}

func (m originMatcher) allows(origin string) bool {
	if m.any {
		return true
	}
	origin = strings.ToLower(origin)
	if _, ok := m.exact[origin]; ok {
		return true
	}
	for i, prefix := range m.prefixes {
		suffix := m.suffixes[i]
		if len(origin) <= len(prefix)+len(suffix) ||
			!strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
			continue
		}
		label := origin[len(prefix) : len(origin)-len(suffix)]
		if !strings.ContainsAny(label, "./:") {
			return true
		}
	}
	return false
}

func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	matcher := newOriginMatcher(cfg.AllowedOrigins)
	allowMethodsValue := strings.Join(orDefault(cfg.AllowedMethods, defaultCORSAllowedMethods), ", ")
	allowHeadersValue := strings.Join(orDefault(cfg.AllowedHeaders, defaultCORSAllowedHeaders), ", ")
	exposeHeadersValue := strings.Join(orDefault(cfg.ExposedHeaders, defaultCORSExposedHeaders), ", ")

	maxAgeSeconds := cfg.MaxAgeSeconds
	if maxAgeSeconds <= 0 {
		maxAgeSeconds = defaultCORSMaxAgeSeconds
	}
	maxAgeValue := strconv.Itoa(maxAgeSeconds)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || !matcher.allows(origin) {
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Add("Vary", "Origin")
			if matcher.any {
				header.Set("Access-Control-Allow-Origin", "*")
			} else {
				header.Set("Access-Control-Allow-Origin", origin)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				header.Add("Vary", "Access-Control-Request-Method")
				header.Add("Vary", "Access-Control-Request-Headers")
				header.Set("Access-Control-Allow-Methods", allowMethodsValue)
				header.Set("Access-Control-Allow-Headers", allowHeadersValue)
				header.Set("Access-Control-Max-Age", maxAgeValue)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			header.Set("Access-Control-Expose-Headers", exposeHeadersValue)
			next.ServeHTTP(w, r)
		})
	}
}

func orDefault(values, fallback []string) []string {
	normalized := normalizeStringList(values)
	if len(normalized) == 0 {
		return append([]string(nil), fallback...)
	}
	return normalized
}

func normalizeStringList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, raw := range values {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		result = append(result, value)
	}
	return result
}
