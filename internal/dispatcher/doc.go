// Package dispatcher keeps the consolidated, pull-friendly view of every
// context's health, permissions and resource counts.
//
// Writers mark a view dirty; subscribers receive at most one payload-free
// notification per view and debounce window and re-read the view through
// GetContextsHealths, GetContextsPermissions or GetResourcesCount.
package dispatcher
