package models

import (
	"fmt"
	"net/http"
	"strings"
)

// EndpointDescriptor is the static definition of one data API call.
type EndpointDescriptor struct {
	Path   string            `toml:"path" yaml:"path" json:"path"`
	Method string            `toml:"method" yaml:"method" json:"method"`
	Name   string            `toml:"name" yaml:"name" json:"name"`
	Params map[string]string `toml:"params" yaml:"params" json:"params,omitempty"`
	Body   map[string]any    `toml:"body" yaml:"body" json:"body,omitempty"`
}

// HTTPMethod returns the upper-cased method, GET when unset
func (e EndpointDescriptor) HTTPMethod() string {
	if m := strings.TrimSpace(e.Method); m != "" {
		return strings.ToUpper(m)
	}
	return http.MethodGet
}

// FriendlyName returns Name, or a sanitized form of Path when no name was given.
func (e EndpointDescriptor) FriendlyName() string {
	if e.Name != "" {
		return e.Name
	}
	return SanitizePath(e.Path)
}

// SanitizePath turns an endpoint path into a file-name friendly token:
// "/advisor/clients/all?x=1" becomes "advisor_clients_all_x=1".
func SanitizePath(path string) string {
	s := strings.NewReplacer("/", "_", "\\", "_").Replace(path)
	s = strings.Trim(s, "_")
	return strings.ReplaceAll(s, "?", "_")
}

// ValidateEndpoints checks that every descriptor has a path and that friendly
// names are unique within the list.
func ValidateEndpoints(endpoints []EndpointDescriptor) error {
	seen := make(map[string]int, len(endpoints))
	for i, ep := range endpoints {
		if strings.TrimSpace(ep.Path) == "" {
			return fmt.Errorf("endpoint %d has no path", i)
		}
		name := ep.FriendlyName()
		if j, ok := seen[name]; ok {
			return fmt.Errorf("endpoint name %q used by entries %d and %d", name, j, i)
		}
		seen[name] = i
	}
	return nil
}

// DefaultEndpoints is the advisor portfolio catalogue fetched on every run.
func DefaultEndpoints() []EndpointDescriptor {
	return []EndpointDescriptor{
		{Path: "/advisor/clients/accounts/v2/CVAL", Method: http.MethodGet, Name: "cuentas"},
		{Path: "/advisor/clients/all", Method: http.MethodGet, Name: "cartera-aranceles"},
		{Path: "/advisor/clients/movements?custodian=CVAL", Method: http.MethodGet, Name: "depositos_y_retiros-movimientos"},
		{Path: "/advisor/operations/cval", Method: http.MethodGet, Name: "operaciones"},
		{Path: "/advisor/holdings/v2/CVAL?term=24HS", Method: http.MethodGet, Name: "tendencias"},
		{Path: "/advisor/clients/balances/v2", Method: http.MethodGet, Name: "saldos"},
	}
}
