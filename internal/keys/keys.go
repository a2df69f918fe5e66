// Package keys derives rate-limit keys from inbound requests.
//
// A key combines an identity value (a header, a query parameter, or nothing)
// with a scope value (the endpoint path, the API host, or nothing). Equal
// inputs always fold to the same key.
package keys

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// NoFieldValue stands in for the identity when no field is configured.
	NoFieldValue = "no-field"
	// NoScopeValue stands in for the scope when no scope is configured.
	NoScopeValue = "no-scope"
)

var (
	// ErrMissingIdentityField is returned when the configured header or query
	// parameter is absent from the request.
	ErrMissingIdentityField = errors.New("expected field not found at headers or query parameters")

	// ErrMissingScopeHost is returned for API scope when the request carries no host.
	ErrMissingScopeHost = errors.New("unable to recover host from request")

	// ErrInvalidSelector is returned when a textual selector cannot be parsed.
	ErrInvalidSelector = errors.New("invalid key selector")
)

// FieldKind identifies where the identity value comes from.
type FieldKind int

const (
	FieldNone FieldKind = iota
	FieldHeader
	FieldQuery
)

// Field selects the identity part of a key.
type Field struct {
	Kind FieldKind
	Name string
}

// HeaderField identifies requests by the value of header name.
func HeaderField(name string) Field { return Field{Kind: FieldHeader, Name: name} }

// QueryField identifies requests by the value of query parameter name.
func QueryField(name string) Field { return Field{Kind: FieldQuery, Name: name} }

// NoField makes every request share one identity.
func NoField() Field { return Field{Kind: FieldNone} }

func (f Field) String() string {
	switch f.Kind {
	case FieldHeader:
		return "header:" + f.Name
	case FieldQuery:
		return "query:" + f.Name
	default:
		return "none"
	}
}

// Scope selects the partition a limit applies to.
type Scope int

const (
	NoScope Scope = iota
	EndpointScope
	APIScope
)

func (s Scope) String() string {
	switch s {
	case EndpointScope:
		return "endpoint"
	case APIScope:
		return "api"
	default:
		return "none"
	}
}

// Selector pairs a field with a scope.
type Selector struct {
	Field Field
	Scope Scope
}

// Derive returns the key for req under sel.
func (sel Selector) Derive(req Request) (string, error) {
	return Derive(sel.Field, sel.Scope, req)
}

// ParseField parses "header:<Name>", "query:<name>" or "none".
// An empty string is treated as "none".
func ParseField(s string) (Field, error) {
	kind, name, hasName := strings.Cut(strings.TrimSpace(s), ":")
	switch strings.ToLower(kind) {
	case "", "none":
		return NoField(), nil
	case "header":
		if !hasName || name == "" {
			return Field{}, fmt.Errorf("%w: header field requires format 'header:Name'", ErrInvalidSelector)
		}
		return HeaderField(name), nil
	case "query":
		if !hasName || name == "" {
			return Field{}, fmt.Errorf("%w: query field requires format 'query:name'", ErrInvalidSelector)
		}
		return QueryField(name), nil
	default:
		return Field{}, fmt.Errorf("%w: unknown field type %q", ErrInvalidSelector, kind)
	}
}

// ParseScope parses "endpoint", "api" or "none". An empty string is "none".
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return NoScope, nil
	case "endpoint":
		return EndpointScope, nil
	case "api", "host":
		return APIScope, nil
	default:
		return NoScope, fmt.Errorf("%w: unknown scope %q", ErrInvalidSelector, s)
	}
}

// Derive folds the identity and scope values of req into a key.
// It never touches the store.
func Derive(field Field, scope Scope, req Request) (string, error) {
	identity, err := fieldValue(field, req)
	if err != nil {
		return "", err
	}
	partition, err := scopeValue(scope, req)
	if err != nil {
		return "", err
	}
	return fold(identity, partition), nil
}

func fieldValue(f Field, req Request) (string, error) {
	var (
		v  string
		ok bool
	)
	switch f.Kind {
	case FieldNone:
		return NoFieldValue, nil
	case FieldHeader:
		v, ok = req.Header(f.Name)
	case FieldQuery:
		v, ok = req.Query(f.Name)
	default:
		return "", fmt.Errorf("%w: unknown field kind %d", ErrInvalidSelector, f.Kind)
	}
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingIdentityField, f)
	}
	return v, nil
}

func scopeValue(s Scope, req Request) (string, error) {
	switch s {
	case NoScope:
		return NoScopeValue, nil
	case EndpointScope:
		return req.Path(), nil
	case APIScope:
		host := req.Host()
		if host == "" {
			return "", ErrMissingScopeHost
		}
		return host, nil
	default:
		return "", fmt.Errorf("%w: unknown scope %d", ErrInvalidSelector, s)
	}
}

// fold hashes both parts with a length prefix so ("ab","c") and ("a","bc")
// never collide on input.
func fold(identity, partition string) string {
	d := xxhash.New()
	_, _ = d.WriteString(strconv.Itoa(len(identity)))
	_, _ = d.WriteString(":")
	_, _ = d.WriteString(identity)
	_, _ = d.WriteString(partition)
	return strconv.FormatUint(d.Sum64(), 16)
}
