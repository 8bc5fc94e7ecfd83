package core

import (
	"fmt"
	"net/url"
	"strconv"
)

// Param is a single request parameter. Params keep their insertion
// order so signed payloads serialize deterministically.
type Param struct {
	Key   string
	Value any
}

// ParamList is an ordered set of request parameters.
type ParamList []Param

// Set appends the parameter, replacing an existing value for the same
// key in place so ordering stays stable.
func (p ParamList) Set(key string, value any) ParamList {
	for i := range p {
		if p[i].Key == key {
			p[i].Value = value
			return p
		}
	}
	return append(p, Param{Key: key, Value: value})
}

// Get returns the value for key and whether it is present.
func (p ParamList) Get(key string) (any, bool) {
	for i := range p {
		if p[i].Key == key {
			return p[i].Value, true
		}
	}
	return nil, false
}

// Has reports whether key is present.
func (p ParamList) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Clone returns an independent copy of the list.
func (p ParamList) Clone() ParamList {
	out := make(ParamList, len(p))
	copy(out, p)
	return out
}

// Encode serializes the parameters as a query string in list order.
// This is the canonical form covered by request signatures.
func (p ParamList) Encode() string {
	var buf []byte
	for i := range p {
		if i > 0 {
			buf = append(buf, '&')
		}
		buf = append(buf, url.QueryEscape(p[i].Key)...)
		buf = append(buf, '=')
		buf = append(buf, url.QueryEscape(FormatParam(p[i].Value))...)
	}
	return string(buf)
}

// Map returns the parameters as a string map for transports that do
// not care about ordering.
func (p ParamList) Map() map[string]string {
	out := make(map[string]string, len(p))
	for i := range p {
		out[p[i].Key] = FormatParam(p[i].Value)
	}
	return out
}

// FormatParam renders a parameter value the way the venue expects it
// on the wire.
func FormatParam(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// RequestSpec describes one venue call independent of transport: the
// HTTP verb and path for REST, the method name for the WebSocket API,
// the ordered parameters, and the rate-limit cost. A spec is built
// once by the endpoint table and treated as immutable afterwards.
type RequestSpec struct {
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	WSMethod  string        `json:"ws_method,omitempty"`
	Params    ParamList     `json:"params,omitempty"`
	Weight    int           `json:"weight"`
	LimitType RateLimitType `json:"limit_type"`
	Security  SecurityType  `json:"security"`
}

// NewRequestSpec creates a spec for the given HTTP method and path
// with weight 1 against the general request-weight budget.
func NewRequestSpec(method, path string) *RequestSpec {
	return &RequestSpec{
		Method:    method,
		Path:      path,
		Weight:    1,
		LimitType: LimitRequestWeight,
	}
}

// SetParam adds a parameter and returns the spec for chaining.
func (r *RequestSpec) SetParam(key string, value any) *RequestSpec {
	r.Params = r.Params.Set(key, value)
	return r
}

// SetWeight sets the rate-limit weight and returns the spec for chaining.
func (r *RequestSpec) SetWeight(weight int) *RequestSpec {
	r.Weight = weight
	return r
}

// SetLimitType sets the budget this request draws from.
func (r *RequestSpec) SetLimitType(t RateLimitType) *RequestSpec {
	r.LimitType = t
	return r
}

// SetSecurity sets the endpoint security class.
func (r *RequestSpec) SetSecurity(s SecurityType) *RequestSpec {
	r.Security = s
	return r
}

// SetWSMethod sets the WebSocket API method name.
func (r *RequestSpec) SetWSMethod(method string) *RequestSpec {
	r.WSMethod = method
	return r
}

// RequiresSignature reports whether the spec must be signed before dispatch.
func (r *RequestSpec) RequiresSignature() bool {
	return r.Security.RequiresSignature()
}

// Clone returns a deep copy so callers can vary parameters without
// mutating the shared template.
func (r *RequestSpec) Clone() *RequestSpec {
	out := *r
	out.Params = r.Params.Clone()
	return &out
}
