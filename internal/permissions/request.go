package permissions

import (
	"fmt"
	"strings"
)

// Request asks whether the current user may perform Verb on Resource in Group.
// "*" is a wildcard for both Group and Resource.
type Request struct {
	Group    string `json:"group"`
	Resource string `json:"resource"`
	Verb     string `json:"verb"`
}

// String renders the request as "verb resource.group".
func (r Request) String() string {
	var b strings.Builder
	b.WriteString(r.Verb)
	b.WriteByte(' ')
	b.WriteString(r.Resource)
	if r.Group != "" {
		b.WriteByte('.')
		b.WriteString(r.Group)
	}
	return b.String()
}

var validVerbs = map[string]bool{
	"get":              true,
	"list":             true,
	"watch":            true,
	"create":           true,
	"update":           true,
	"patch":            true,
	"delete":           true,
	"deletecollection": true,
	"*":                true,
}

// ValidateRequest checks that r names a resource and a known verb.
func ValidateRequest(r Request) error {
	if r.Verb == "" {
		return fmt.Errorf("%w: verb is required", ErrInvalidRequest)
	}
	if r.Resource == "" {
		return fmt.Errorf("%w: resource is required", ErrInvalidRequest)
	}
	if !validVerbs[r.Verb] {
		return fmt.Errorf("%w: unknown verb %q", ErrInvalidRequest, r.Verb)
	}
	return nil
}

// ResourceRequests is the ordered request chain for one resource kind.
type ResourceRequests struct {
	// Resource is the resource kind the chain resolves, e.g. "pods".
	Resource string

	// Requests are tried in order until one is allowed.
	Requests []Request

	// Namespaced scopes the reviews to the context's namespace.
	Namespaced bool
}

// Slice returns a copy of r without its first request. Slicing an empty
// chain returns an empty chain.
func (r ResourceRequests) Slice() ResourceRequests {
	out := ResourceRequests{Resource: r.Resource, Namespaced: r.Namespaced}
	if len(r.Requests) > 1 {
		out.Requests = append([]Request(nil), r.Requests[1:]...)
	}
	return out
}
