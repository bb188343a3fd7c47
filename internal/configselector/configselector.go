// Package configselector defines the ConfigSelector contract: the per-call
// routing hook a resolver can install alongside a service config, and the
// dynamic filters a selector asks to have prepended onto a call's filter
// stack.
package configselector

import "google.golang.org/grpc/metadata"

// Filter is one entry in a dynamic filter stack: typically a
// retry-metadata filter or a fault-injection filter requested by a
// ConfigSelector, identified by name so equal filter lists can be compared
// without caring about instance identity.
type Filter interface {
	Name() string
}

// CallConfigArgs carries the request-time inputs to GetCallConfig.
type CallConfigArgs struct {
	Method          string
	InitialMetadata metadata.MD
}

// CallConfig is the result of GetCallConfig: the method config a call should
// apply, plus an optional commit hook invoked once the pick that will use
// this config is committed.
type CallConfig struct {
	MethodConfig     any
	Authority        string
	OnCommitted      func()
	RequiresBlocking bool
}

// Selector is the per-call routing hook installed alongside a service
// config. A nil Selector is valid and means "no routing overrides"; where a
// selector is required by contract, the parent package uses its
// defaultConfigSelector (see serviceconfig.go) rather than a literal nil.
type Selector interface {
	// GetCallConfig resolves the CallConfig for one call, or an error that
	// should fail the call outright.
	GetCallConfig(args CallConfigArgs) (*CallConfig, error)

	// GetFilters returns the filter stack this selector wants prepended,
	// in the order they should run.
	GetFilters() []Filter

	// Equal reports whether two selectors would route every call
	// identically, used to avoid re-publishing the data-plane triple when a
	// resolver update does not actually change the selector.
	Equal(other Selector) bool
}
