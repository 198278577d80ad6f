// Package requestbuilder implements spec.md §4.4: matching parsed CLI
// arguments to a Cached Operation, and assembling the concrete HTTP
// request — base URL resolution, server/path/query substitution,
// authentication, headers, and body.
package requestbuilder

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/specmodel"
)

// Match finds the Cached Operation addressed by group/name (or an alias of
// either), per spec.md §4.4's "Matcher contract."
func Match(spec *specmodel.CachedSpec, group, name string) (*specmodel.CachedOperation, string, error) {
	for i := range spec.Commands {
		op := &spec.Commands[i]
		if op.DisplayGroup == group && op.DisplayName == name {
			return op, fmt.Sprintf("%s %s", group, name), nil
		}
	}
	for i := range spec.Commands {
		op := &spec.Commands[i]
		if op.DisplayGroup != group {
			continue
		}
		for _, alias := range op.Aliases {
			if alias == name {
				return op, fmt.Sprintf("%s %s (alias for %s)", group, name, op.DisplayName), nil
			}
		}
	}
	return nil, "", apertureerr.New(apertureerr.Specification, "no such command").WithContext(group + " " + name)
}

// Env resolves an environment variable, matching os.LookupEnv's signature —
// injected so callers can stub secrets in tests.
type Env func(name string) (string, bool)

// Options carries every caller-supplied input to request assembly.
type Options struct {
	BaseURLFlag    string            // --base-url
	ServerVars     map[string]string // --server-var name=value, repeatable
	EnvName        string            // APERTURE_ENV
	ParamValues    map[string]string // declared path/query/header parameter name -> raw value
	ExtraHeaders   []string          // --header "Name: Value", repeatable, may contain ${VAR}
	IdempotencyKey string            // --idempotency-key
	Body           string            // --body raw text, may contain ${VAR}
	Env            Env
}

// BuiltRequest is the fully assembled, ready-to-send request.
type BuiltRequest struct {
	Method  string
	URL     string
	Headers map[string][]string
	Body    []byte
	HasAuth bool
}

var pathParamRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.-]*)\}`)
var varExpandRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
var headerTokenRe = regexp.MustCompile(`^[!#$%&'*+\-.^_` + "`" + `|~0-9A-Za-z]+$`)

// Build assembles the request for op per spec.md §4.4. apiCfg may be the
// zero value when the context has no stored configuration.
func Build(spec *specmodel.CachedSpec, op *specmodel.CachedOperation, apiCfg specmodel.ApiConfig, opts Options) (*BuiltRequest, error) {
	if opts.Env == nil {
		opts.Env = func(string) (string, bool) { return "", false }
	}

	baseURL, err := resolveBaseURL(spec, apiCfg, opts)
	if err != nil {
		return nil, err
	}

	fullURL, err := assembleURL(baseURL, op, opts)
	if err != nil {
		return nil, err
	}

	headers := map[string][]string{}
	hasAuth := false

	for _, p := range op.Parameters {
		if p.Location != specmodel.LocationHeader {
			continue
		}
		if v, ok := opts.ParamValues[p.Name]; ok {
			headers[p.Name] = append(headers[p.Name], v)
		}
	}

	auth, err := resolveAuth(spec, op, apiCfg, opts)
	if err != nil {
		return nil, err
	}
	if auth != nil {
		hasAuth = true
		for k, vs := range auth.Headers {
			headers[k] = append(headers[k], vs...)
		}
		q, err := url.Parse(fullURL)
		if err != nil {
			return nil, apertureerr.Wrap(apertureerr.Runtime, err, "parse assembled URL")
		}
		if len(auth.QueryParams) > 0 {
			values := q.Query()
			for k, vs := range auth.QueryParams {
				values[k] = append(values[k], vs...)
			}
			q.RawQuery = values.Encode()
			fullURL = q.String()
		}
		if auth.Cookie != "" {
			headers["Cookie"] = append(headers["Cookie"], auth.Cookie)
		}
	}

	for _, raw := range opts.ExtraHeaders {
		name, value, err := parseHeaderFlag(raw, opts.Env)
		if err != nil {
			return nil, err
		}
		headers[name] = append(headers[name], value)
	}

	if opts.IdempotencyKey != "" {
		headers["Idempotency-Key"] = []string{opts.IdempotencyKey}
	}

	var bodyBytes []byte
	if strings.TrimSpace(opts.Body) != "" {
		expanded, err := expandVars(opts.Body, opts.Env)
		if err != nil {
			return nil, err
		}
		if !json.Valid([]byte(expanded)) {
			return nil, apertureerr.New(apertureerr.Runtime, "--body is not valid JSON after variable expansion")
		}
		bodyBytes = []byte(expanded)
		headers["Content-Type"] = []string{"application/json"}
	}

	for name, values := range headers {
		if !headerTokenRe.MatchString(name) {
			return nil, apertureerr.New(apertureerr.Headers, "invalid header name").WithContext(name)
		}
		for _, v := range values {
			if strings.ContainsAny(v, "\r\n") {
				return nil, apertureerr.New(apertureerr.Headers, "header value contains CR/LF").WithContext(name)
			}
		}
	}

	return &BuiltRequest{
		Method:  strings.ToUpper(op.Method),
		URL:     fullURL,
		Headers: headers,
		Body:    bodyBytes,
		HasAuth: hasAuth,
	}, nil
}

func resolveBaseURL(spec *specmodel.CachedSpec, apiCfg specmodel.ApiConfig, opts Options) (string, error) {
	if opts.BaseURLFlag != "" {
		return strings.TrimSuffix(opts.BaseURLFlag, "/"), nil
	}
	if opts.EnvName != "" {
		if u, ok := apiCfg.EnvironmentURLs[opts.EnvName]; ok && u != "" {
			return strings.TrimSuffix(u, "/"), nil
		}
	}
	if apiCfg.BaseURLOverride != "" {
		return strings.TrimSuffix(apiCfg.BaseURLOverride, "/"), nil
	}
	if v, ok := opts.Env("APERTURE_BASE_URL"); ok && v != "" {
		return strings.TrimSuffix(v, "/"), nil
	}
	if len(spec.Servers) > 0 {
		return substituteServerVars(spec.Servers[0], opts.ServerVars)
	}
	return "http://localhost", nil
}

func substituteServerVars(server specmodel.Server, provided map[string]string) (string, error) {
	result := server.URLTemplate
	for name, variable := range server.Variables {
		value, ok := provided[name]
		if !ok {
			if variable.Default != nil {
				value = *variable.Default
			} else {
				return "", apertureerr.New(apertureerr.ServerVariable, "missing required server variable").WithContext(name)
			}
		}
		if len(variable.Enum) > 0 && !containsString(variable.Enum, value) {
			return "", apertureerr.New(apertureerr.ServerVariable, "value is not in the variable's enum").
				WithContext(name).WithDetails(map[string]any{"allowed": variable.Enum, "got": value})
		}
		result = strings.ReplaceAll(result, "{"+name+"}", url.PathEscape(value))
	}
	return strings.TrimSuffix(result, "/"), nil
}

func assembleURL(baseURL string, op *specmodel.CachedOperation, opts Options) (string, error) {
	path := op.PathTemplate
	var missing []string
	path = pathParamRe.ReplaceAllStringFunc(path, func(token string) string {
		name := pathParamRe.FindStringSubmatch(token)[1]
		v, ok := opts.ParamValues[name]
		if !ok {
			missing = append(missing, name)
			return token
		}
		return url.PathEscape(v)
	})
	if len(missing) > 0 {
		return "", apertureerr.New(apertureerr.Specification, "missing required path parameter").
			WithDetails(map[string]any{"missing": missing})
	}

	values := url.Values{}
	for _, p := range op.Parameters {
		if p.Location != specmodel.LocationQuery {
			continue
		}
		v, ok := opts.ParamValues[p.Name]
		if !ok {
			continue
		}
		if p.TypeHint == specmodel.TypeArray {
			for _, item := range strings.Split(v, ",") {
				values.Add(p.Name, item)
			}
			continue
		}
		values.Set(p.Name, v)
	}

	full := baseURL + path
	if len(values) > 0 {
		full += "?" + values.Encode()
	}
	return full, nil
}

type resolvedAuth struct {
	Headers     map[string][]string
	QueryParams map[string][]string
	Cookie      string
}

func resolveAuth(spec *specmodel.CachedSpec, op *specmodel.CachedOperation, apiCfg specmodel.ApiConfig, opts Options) (*resolvedAuth, error) {
	sets := op.Security
	if sets == nil {
		sets = spec.GlobalSecurity
	}
	if len(sets) == 0 {
		return nil, nil
	}

	var lastErr error
	for _, set := range sets {
		auth := &resolvedAuth{Headers: map[string][]string{}, QueryParams: map[string][]string{}}
		ok := true
		for _, schemeName := range set.Schemes {
			scheme, exists := spec.SecuritySchemes[schemeName]
			if !exists {
				ok = false
				lastErr = apertureerr.New(apertureerr.Authentication, "unknown security scheme").WithContext(schemeName)
				break
			}
			if err := applyScheme(schemeName, scheme, apiCfg, opts.Env, auth); err != nil {
				ok = false
				lastErr = err
				break
			}
		}
		if ok {
			return auth, nil
		}
	}
	return nil, lastErr
}

func applyScheme(name string, scheme specmodel.SecurityScheme, apiCfg specmodel.ApiConfig, env Env, auth *resolvedAuth) error {
	envVar, err := secretEnvVar(name, scheme, apiCfg)
	if err != nil {
		return err
	}
	value, ok := env(envVar)
	if !ok || value == "" {
		return apertureerr.New(apertureerr.Authentication, "secret environment variable not set").
			WithDetails(map[string]any{"scheme_name": name, "env_var": envVar})
	}

	switch scheme.Type {
	case specmodel.SchemeApiKey:
		switch scheme.Location {
		case specmodel.LocationQuery:
			auth.QueryParams[scheme.KeyName] = append(auth.QueryParams[scheme.KeyName], value)
		case specmodel.LocationCookie:
			auth.Cookie = scheme.KeyName + "=" + value
		default:
			auth.Headers[scheme.KeyName] = append(auth.Headers[scheme.KeyName], value)
		}
	case specmodel.SchemeHttpBearer:
		auth.Headers["Authorization"] = append(auth.Headers["Authorization"], "Bearer "+value)
	case specmodel.SchemeHttpBasic:
		auth.Headers["Authorization"] = append(auth.Headers["Authorization"], "Basic "+base64.StdEncoding.EncodeToString([]byte(value)))
	case specmodel.SchemeHttpCustom:
		auth.Headers["Authorization"] = append(auth.Headers["Authorization"], scheme.SchemeName+" "+value)
	}
	return nil
}

func secretEnvVar(name string, scheme specmodel.SecurityScheme, apiCfg specmodel.ApiConfig) (string, error) {
	if binding, ok := apiCfg.Secrets[name]; ok && binding.Name != "" {
		return binding.Name, nil
	}
	if scheme.Secret != nil && scheme.Secret.Name != "" {
		return scheme.Secret.Name, nil
	}
	return "", apertureerr.New(apertureerr.Authentication, "no secret configured for security scheme").WithContext(name)
}

func parseHeaderFlag(raw string, env Env) (string, string, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return "", "", apertureerr.New(apertureerr.Headers, "malformed --header flag, expected Name: Value").WithContext(raw)
	}
	name := strings.TrimSpace(parts[0])
	value, err := expandVars(strings.TrimSpace(parts[1]), env)
	if err != nil {
		return "", "", err
	}
	return name, value, nil
}

func expandVars(s string, env Env) (string, error) {
	var missing string
	result := varExpandRe.ReplaceAllStringFunc(s, func(token string) string {
		name := varExpandRe.FindStringSubmatch(token)[1]
		v, ok := env(name)
		if !ok {
			missing = name
			return token
		}
		return v
	})
	if missing != "" {
		return "", apertureerr.New(apertureerr.Runtime, "unresolved ${VAR} reference").WithContext(missing)
	}
	return result, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// Describe renders req for --dry-run: method, URL, headers with auth
// redacted, and body. Never sends the request.
func Describe(req *BuiltRequest) map[string]any {
	redacted := map[string][]string{}
	names := make([]string, 0, len(req.Headers))
	for name := range req.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if isAuthHeader(name) {
			redacted[name] = []string{"<redacted>"}
			continue
		}
		redacted[name] = req.Headers[name]
	}
	out := map[string]any{
		"method":  req.Method,
		"url":     req.URL,
		"headers": redacted,
	}
	if len(req.Body) > 0 {
		out["body"] = json.RawMessage(req.Body)
	}
	return out
}

func isAuthHeader(name string) bool {
	lower := strings.ToLower(name)
	switch lower {
	case "authorization", "proxy-authorization", "x-api-key", "x-api-token", "api-key", "token", "bearer", "cookie":
		return true
	}
	return strings.HasPrefix(lower, "x-auth-") || strings.HasPrefix(lower, "x-api-")
}
