// Package network provides the connectivity preflight step. It runs before
// any mutating step so that repository and download failures surface as a
// clear network diagnosis instead of a mid-pipeline package error.
package network

import (
	"context"
	"net"
	"net/http"
)

// Resolver resolves host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultResolver returns the system resolver.
func DefaultResolver() Resolver {
	return net.DefaultResolver
}
