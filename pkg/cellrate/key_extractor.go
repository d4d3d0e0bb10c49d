package cellrate

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// KeyExtractor identifies the client a request belongs to.
// Keys are prefixed with their source ("ip:", "header:X-API-Key:", ...) so
// values from different sources never collide.
type KeyExtractor func(*http.Request) (string, error)

func missing(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrKeyExtractionFailed, fmt.Sprintf(format, args...))
}

// remoteHost strips the port from r.RemoteAddr when there is one
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedHost returns the first client address a proxy reported
func forwardedHost(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}

// ExtractIP keys requests by the connection's remote address.
func ExtractIP() KeyExtractor {
	return func(r *http.Request) (string, error) {
		ip := remoteHost(r)
		if ip == "" {
			return "", missing("empty IP address")
		}
		return "ip:" + ip, nil
	}
}

// ExtractIPWithProxy prefers X-Forwarded-For, then X-Real-IP, then the
// remote address. Only use it behind a proxy that sets these headers.
func ExtractIPWithProxy() KeyExtractor {
	direct := ExtractIP()
	return func(r *http.Request) (string, error) {
		if ip := forwardedHost(r); ip != "" {
			return "ip:" + ip, nil
		}
		return direct(r)
	}
}

// ExtractHeader keys requests by the value of a header such as X-API-Key
func ExtractHeader(name string) KeyExtractor {
	canonical := http.CanonicalHeaderKey(name)
	return func(r *http.Request) (string, error) {
		value := r.Header.Get(canonical)
		if value == "" {
			return "", missing("header %s not found or empty", canonical)
		}
		return "header:" + canonical + ":" + value, nil
	}
}

// ExtractBearer keys requests by the token in "Authorization: Bearer <token>"
func ExtractBearer() KeyExtractor {
	return func(r *http.Request) (string, error) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			return "", missing("Authorization header not found")
		}
		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return "", missing("invalid Authorization header format")
		}
		if token = strings.TrimSpace(token); token == "" {
			return "", missing("empty bearer token")
		}
		return "bearer:" + token, nil
	}
}

// ExtractQuery keys requests by a query parameter such as ?api_key=
func ExtractQuery(param string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		value := r.URL.Query().Get(param)
		if value == "" {
			return "", missing("query parameter %s not found or empty", param)
		}
		return "query:" + param + ":" + value, nil
	}
}

// ExtractCookie keys requests by a cookie value
func ExtractCookie(name string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(name)
		if err != nil || cookie.Value == "" {
			return "", missing("cookie %s not found or empty", name)
		}
		return "cookie:" + name + ":" + cookie.Value, nil
	}
}

// ExtractStatic puts every request under one key, giving a global limit.
func ExtractStatic(key string) KeyExtractor {
	return func(*http.Request) (string, error) {
		if key == "" {
			return "", missing("static key is empty")
		}
		return key, nil
	}
}

// ExtractComposite returns the key of the first extractor that succeeds.
//
//	ExtractComposite(ExtractHeader("X-API-Key"), ExtractIPWithProxy())
func ExtractComposite(extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) (string, error) {
		if len(extractors) == 0 {
			return "", missing("no extractors provided")
		}
		var failures []string
		for _, extract := range extractors {
			key, err := extract(r)
			if err == nil && key != "" {
				return key, nil
			}
			if err != nil {
				failures = append(failures, err.Error())
			}
		}
		return "", missing("all extractors failed: %s", strings.Join(failures, "; "))
	}
}

// extractorFactories builds extractors from "kind" or "kind:argument"
var extractorFactories = map[string]func(arg string) KeyExtractor{
	"ip":       func(string) KeyExtractor { return ExtractIP() },
	"ip-proxy": func(string) KeyExtractor { return ExtractIPWithProxy() },
	"bearer":   func(string) KeyExtractor { return ExtractBearer() },
	"header":   ExtractHeader,
	"query":    ExtractQuery,
	"cookie":   ExtractCookie,
	"static":   ExtractStatic,
}

// kinds that need an argument after the colon
var extractorNeedsArg = map[string]bool{
	"header": true,
	"query":  true,
	"cookie": true,
	"static": true,
}

// ParseKeyExtractorConfig creates a KeyExtractor from its configuration string:
// "ip", "ip-proxy", "bearer", "header:<name>", "query:<param>",
// "cookie:<name>" or "static:<key>". Several may be joined with "|" to fall
// back from one to the next, e.g. "header:X-API-Key|ip".
func ParseKeyExtractorConfig(config string) (KeyExtractor, error) {
	if strings.Contains(config, "|") {
		var chain []KeyExtractor
		for _, part := range strings.Split(config, "|") {
			extractor, err := ParseKeyExtractorConfig(strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			chain = append(chain, extractor)
		}
		return ExtractComposite(chain...), nil
	}

	kind, arg, hasArg := strings.Cut(config, ":")
	factory, ok := extractorFactories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key extractor type: %q", ErrInvalidConfig, kind)
	}
	if extractorNeedsArg[kind] && (!hasArg || arg == "") {
		return nil, fmt.Errorf("%w: %s extractor requires format '%s:<value>'", ErrInvalidConfig, kind, kind)
	}
	return factory(arg), nil
}
