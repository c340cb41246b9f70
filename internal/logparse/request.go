package logparse

import (
	"bytes"
	"encoding/json"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/splax/deploydeck/internal/ident"
)

// Source formats recognized by ParseRequestLine.
const (
	FormatJSON     = "json"
	FormatCombined = "combined"
)

// Request is a recognized access log line before attribution.
type Request struct {
	Format      string
	Timestamp   string
	Method      string
	Path        string
	StatusCode  *int
	Host        string
	RemoteAddr  string
	Message     string
	ProjectHint string
}

// Key aliases, in priority order, for JSON access log lines.
var (
	requestKeys   = []string{"request", "httpRequest"}
	methodKeys    = []string{"method"}
	pathKeys      = []string{"path", "url", "requestPath"}
	statusKeys    = []string{"statusCode", "status"}
	hostKeys      = []string{"host", "hostname", "domain"}
	remoteKeys    = []string{"remoteAddr", "ip", "clientIp"}
	timestampKeys = []string{"timestamp", "time", "loggedAt", "createdAt", "date"}
	projectKeys   = []string{"projectSlug", "project", "projectName"}
	messageKeys   = []string{"message", "msg"}

	// Nested httpRequest objects (Cloud Logging style).
	nestedMethodKeys = []string{"requestMethod", "method"}
	nestedURLKeys    = []string{"requestUrl", "url", "path"}
	nestedStatusKeys = []string{"status", "statusCode"}
	nestedRemoteKeys = []string{"remoteIp", "remoteAddr"}
)

var (
	combinedPattern    = regexp.MustCompile(`^(\S+) \S+ \S+ \[([^\]]+)\] "([^"]*)" (\d{3}|-) \S+(.*)$`)
	quotedFieldPattern = regexp.MustCompile(`"([^"]*)"`)
	requestLinePattern = regexp.MustCompile(`(?i)^([A-Z]+)(?:\s+(\S+))?`)
)

// ParseRequestLine recognizes a JSON access log object or a combined log
// format line, in that order. It never panics; unrecognized input yields false.
func ParseRequestLine(line string) (Request, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Request{}, false
	}
	if strings.HasPrefix(trimmed, "{") {
		if req, ok := parseJSONRequest(trimmed); ok {
			return req, true
		}
	}
	return parseCombinedRequest(trimmed)
}

// ParseRequestField splits "METHOD /path HTTP/1.1" into method and path,
// defaulting to GET and "/".
func ParseRequestField(raw string) (method, path string) {
	method, path = "GET", "/"
	m := requestLinePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return method, path
	}
	method = strings.ToUpper(m[1])
	if m[2] != "" {
		path = m[2]
	}
	return method, path
}

// decodeObject decodes line as exactly one JSON object. Anything after the
// closing brace other than whitespace rejects the line.
func decodeObject(line string) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(line)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return obj, true
}

func parseJSONRequest(line string) (Request, bool) {
	obj, ok := decodeObject(line)
	if !ok {
		return Request{}, false
	}
	req := Request{Format: FormatJSON}

	var nested map[string]any
	requestMethod, requestPath := "", ""
	if raw, ok := firstValue(obj, requestKeys); ok {
		switch v := raw.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				requestMethod, requestPath = ParseRequestField(v)
			}
		case map[string]any:
			nested = v
		}
	}
	if nested != nil {
		requestMethod = strings.ToUpper(firstString(nested, nestedMethodKeys))
		requestPath = firstString(nested, nestedURLKeys)
	}

	req.Method = strings.ToUpper(firstString(obj, methodKeys))
	if req.Method == "" {
		req.Method = requestMethod
	}
	if req.Method == "" {
		req.Method = "GET"
	}

	path := firstString(obj, pathKeys)
	if path == "" {
		path = requestPath
	}
	var urlHost string
	req.Path, urlHost = splitURLPath(path)

	if v, ok := firstValue(obj, statusKeys); ok {
		req.StatusCode = CoerceStatusCode(v)
	}
	if req.StatusCode == nil && nested != nil {
		if v, ok := firstValue(nested, nestedStatusKeys); ok {
			req.StatusCode = CoerceStatusCode(v)
		}
	}

	req.Host = ident.NormalizeHost(firstString(obj, hostKeys))
	if req.Host == "" {
		req.Host = urlHost
	}
	req.RemoteAddr = firstString(obj, remoteKeys)
	if req.RemoteAddr == "" && nested != nil {
		req.RemoteAddr = firstString(nested, nestedRemoteKeys)
	}
	if v, ok := firstValue(obj, timestampKeys); ok {
		req.Timestamp, _ = ToISOTimestamp(v)
	}
	req.ProjectHint = firstString(obj, projectKeys)
	req.Message = firstString(obj, messageKeys)
	if req.Message == "" {
		req.Message = req.Method + " " + req.Path
	}
	return req, true
}

func parseCombinedRequest(line string) (Request, bool) {
	m := combinedPattern.FindStringSubmatch(line)
	if m == nil {
		return Request{}, false
	}
	req := Request{Format: FormatCombined, RemoteAddr: m[1]}
	req.Timestamp, _ = ToISOTimestamp(m[2])
	req.Method, req.Path = ParseRequestField(m[3])
	if m[4] != "-" {
		req.StatusCode = CoerceStatusCode(m[4])
	}
	for _, field := range quotedFieldPattern.FindAllStringSubmatch(m[5], -1) {
		if ident.LooksLikeHost(field[1]) {
			req.Host = ident.NormalizeHost(field[1])
			break
		}
	}
	req.Message = req.Method + " " + req.Path
	return req, true
}

// splitURLPath turns an absolute URL into its path (with query) and host.
func splitURLPath(raw string) (path, host string) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "/", ""
	}
	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if u, err := url.Parse(value); err == nil {
			path = u.EscapedPath()
			if path == "" {
				path = "/"
			}
			if u.RawQuery != "" {
				path += "?" + u.RawQuery
			}
			return path, ident.NormalizeHost(u.Host)
		}
	}
	return value, ""
}

func firstValue(obj map[string]any, keys []string) (any, bool) {
	for _, key := range keys {
		if v, ok := obj[key]; ok && v != nil {
			if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

func firstString(obj map[string]any, keys []string) string {
	v, ok := firstValue(obj, keys)
	if !ok {
		return ""
	}
	return stringify(v)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64, bool, int, int64:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return ""
	}
}
