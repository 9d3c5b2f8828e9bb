// Package permissions evaluates RBAC permissions of the current kubeconfig
// user per context and per resource kind.
//
// Every resource kind declares an ordered chain of requests, most specific
// first. A chain is walked with one SelfSubjectAccessReview per request and
// stops at the first allowed request; when every request is denied the kind
// is reported as not permitted with the reason of the last review. Chains of
// different kinds are evaluated concurrently. Each chain is walked at most
// once per Check and is never retried.
package permissions
