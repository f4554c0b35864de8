package server

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
)

// rpc is one RiskEngine method, served over gRPC and HTTP from the same
// definition.
type rpc struct {
	Name string // gRPC method name
	Verb string // HTTP method
	Path string // HTTP path pattern

	newReq func() interface{}
	call   func(ctx context.Context, req interface{}) (interface{}, error)

	// bind fills the request from path and query parameters. Methods
	// without a binder read a JSON body.
	bind func(req interface{}, p params) error
}

func unary[Req, Resp any](name, verb, path string, bind func(*Req, params) error, call func(context.Context, *Req) (Resp, error)) rpc {
	m := rpc{
		Name:   name,
		Verb:   verb,
		Path:   path,
		newReq: func() interface{} { return new(Req) },
		call: func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(ctx, req.(*Req))
		},
	}
	if bind != nil {
		m.bind = func(req interface{}, p params) error { return bind(req.(*Req), p) }
	}
	return m
}

// params are the path and query parameters of an HTTP request.
type params struct {
	path  map[string]string
	query url.Values
}

func (p params) str(name string) string {
	if v, ok := p.path[name]; ok {
		return v
	}
	return p.query.Get(name)
}

func (p params) required(name string) (string, error) {
	v := p.str(name)
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

func (p params) uuid(name string) (uuid.UUID, error) {
	v, err := p.required(name)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return id, nil
}

// int64 reads an optional integer parameter.
func (p params) int64(name string, def int64) (int64, error) {
	v := p.str(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}
