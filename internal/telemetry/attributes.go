// Package telemetry defines the fixed set of span and metric attributes the
// client reports and the meters it records to.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute identifies one reported attribute. The set is closed; keys are
// resolved by a switch, never by name lookup.
type Attribute int

const (
	RequestMethod Attribute = iota
	RequestStoreID
	RequestModelID
	RequestClientID
	HTTPRequestMethod
	HTTPResponseStatusCode
	HTTPRequestResendCount
	HTTPHost
	URLFull
	UserAgent
)

// Key returns the attribute key.
func (a Attribute) Key() attribute.Key {
	switch a {
	case RequestMethod:
		return "fga-client.request.method"
	case RequestStoreID:
		return "fga-client.request.store_id"
	case RequestModelID:
		return "fga-client.request.model_id"
	case RequestClientID:
		return "fga-client.request.client_id"
	case HTTPRequestMethod:
		return "http.request.method"
	case HTTPResponseStatusCode:
		return "http.response.status_code"
	case HTTPRequestResendCount:
		return "http.request.resend_count"
	case HTTPHost:
		return "http.host"
	case URLFull:
		return "url.full"
	case UserAgent:
		return "user_agent.original"
	default:
		return "fga-client.unknown"
	}
}

// String builds a string attribute.
func (a Attribute) String(v string) attribute.KeyValue {
	return a.Key().String(v)
}

// Int builds an int attribute.
func (a Attribute) Int(v int) attribute.KeyValue {
	return a.Key().Int(v)
}

// Set collects attributes for one request, skipping empty string values.
type Set struct {
	kvs []attribute.KeyValue
}

// AddString adds a string attribute when v is non-empty.
func (s *Set) AddString(a Attribute, v string) *Set {
	if v != "" {
		s.kvs = append(s.kvs, a.String(v))
	}
	return s
}

// AddInt adds an int attribute.
func (s *Set) AddInt(a Attribute, v int) *Set {
	s.kvs = append(s.kvs, a.Int(v))
	return s
}

// Add appends prebuilt attributes.
func (s *Set) Add(kvs ...attribute.KeyValue) *Set {
	s.kvs = append(s.kvs, kvs...)
	return s
}

// KeyValues returns a copy of the collected attributes.
func (s *Set) KeyValues() []attribute.KeyValue {
	return append([]attribute.KeyValue(nil), s.kvs...)
}
