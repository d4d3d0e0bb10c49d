package cellrate

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(remoteAddr string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remoteAddr
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	return req
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
		wantErr    bool
	}{
		{name: "ipv4 with port", remoteAddr: "192.168.1.1:12345", want: "ip:192.168.1.1"},
		{name: "ipv6 with port", remoteAddr: "[2001:db8::1]:8080", want: "ip:2001:db8::1"},
		{name: "without port", remoteAddr: "10.0.0.1", want: "ip:10.0.0.1"},
		{name: "empty", remoteAddr: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ExtractIP()(request(tt.remoteAddr, nil))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrKeyExtractionFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, key)
		})
	}
}

func TestExtractIPWithProxy(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "first forwarded address wins",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2, 10.0.0.3"},
			want:    "ip:203.0.113.5",
		},
		{
			name:    "forwarded beats real ip",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5", "X-Real-IP": "198.51.100.7"},
			want:    "ip:203.0.113.5",
		},
		{
			name:    "real ip",
			headers: map[string]string{"X-Real-IP": "198.51.100.7"},
			want:    "ip:198.51.100.7",
		},
		{
			name:    "blank forwarded falls through",
			headers: map[string]string{"X-Forwarded-For": " , 10.0.0.2"},
			want:    "ip:192.168.1.1",
		},
		{
			name: "remote address",
			want: "ip:192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ExtractIPWithProxy()(request("192.168.1.1:5555", tt.headers))
			require.NoError(t, err)
			assert.Equal(t, tt.want, key)
		})
	}
}

func TestExtractHeader(t *testing.T) {
	extract := ExtractHeader("x-api-key")

	key, err := extract(request("1.2.3.4:1", map[string]string{"X-API-Key": "abc"}))
	require.NoError(t, err)
	assert.Equal(t, "header:X-Api-Key:abc", key)

	_, err = extract(request("1.2.3.4:1", nil))
	assert.ErrorIs(t, err, ErrKeyExtractionFailed)
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		name    string
		auth    string
		want    string
		wantErr bool
	}{
		{name: "valid", auth: "Bearer token123", want: "bearer:token123"},
		{name: "lowercase scheme", auth: "bearer token123", want: "bearer:token123"},
		{name: "missing", auth: "", wantErr: true},
		{name: "basic auth", auth: "Basic dXNlcjpwYXNz", wantErr: true},
		{name: "no token", auth: "Bearer ", wantErr: true},
		{name: "no separator", auth: "Bearer", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.auth != "" {
				headers["Authorization"] = tt.auth
			}
			key, err := ExtractBearer()(request("1.2.3.4:1", headers))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrKeyExtractionFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, key)
		})
	}
}

func TestExtractQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/search?api_key=k1&q=go", nil)
	key, err := ExtractQuery("api_key")(req)
	require.NoError(t, err)
	assert.Equal(t, "query:api_key:k1", key)

	_, err = ExtractQuery("token")(req)
	assert.ErrorIs(t, err, ErrKeyExtractionFailed)
}

func TestExtractCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "s-42"})

	key, err := ExtractCookie("session_id")(req)
	require.NoError(t, err)
	assert.Equal(t, "cookie:session_id:s-42", key)

	_, err = ExtractCookie("other")(req)
	assert.ErrorIs(t, err, ErrKeyExtractionFailed)
}

func TestExtractStatic(t *testing.T) {
	key, err := ExtractStatic("global")(request("", nil))
	require.NoError(t, err)
	assert.Equal(t, "global", key)

	_, err = ExtractStatic("")(request("", nil))
	assert.ErrorIs(t, err, ErrKeyExtractionFailed)
}

func TestExtractComposite(t *testing.T) {
	extract := ExtractComposite(ExtractHeader("X-API-Key"), ExtractIP())

	key, err := extract(request("10.0.0.1:1", map[string]string{"X-API-Key": "abc"}))
	require.NoError(t, err)
	assert.Equal(t, "header:X-Api-Key:abc", key)

	key, err = extract(request("10.0.0.1:1", nil))
	require.NoError(t, err)
	assert.Equal(t, "ip:10.0.0.1", key)

	_, err = ExtractComposite(ExtractBearer(), ExtractQuery("k"))(request("10.0.0.1:1", nil))
	assert.ErrorIs(t, err, ErrKeyExtractionFailed)

	_, err = ExtractComposite()(request("10.0.0.1:1", nil))
	assert.ErrorIs(t, err, ErrKeyExtractionFailed)
}

func TestParseKeyExtractorConfig(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?api_key=q1", nil)
	req.RemoteAddr = "10.0.0.1:1"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	req.Header.Set("X-API-Key", "h1")
	req.Header.Set("Authorization", "Bearer b1")

	tests := []struct {
		config string
		want   string
	}{
		{config: "ip", want: "ip:10.0.0.1"},
		{config: "ip-proxy", want: "ip:203.0.113.5"},
		{config: "header:X-API-Key", want: "header:X-Api-Key:h1"},
		{config: "bearer", want: "bearer:b1"},
		{config: "query:api_key", want: "query:api_key:q1"},
		{config: "static:everyone", want: "everyone"},
		{config: "cookie:missing|ip", want: "ip:10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.config, func(t *testing.T) {
			extract, err := ParseKeyExtractorConfig(tt.config)
			require.NoError(t, err)
			key, err := extract(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, key)
		})
	}
}

func TestParseKeyExtractorConfig_Errors(t *testing.T) {
	for _, config := range []string{"", "fingerprint", "header", "header:", "query", "cookie:", "static", "ip|nope"} {
		t.Run(config, func(t *testing.T) {
			_, err := ParseKeyExtractorConfig(config)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
