package clientchannel

import (
	"context"
	"strings"

	"github.com/joeycumines/go-clientchannel/internal/chantrace"
	"github.com/joeycumines/go-clientchannel/internal/configselector"
	"github.com/joeycumines/go-clientchannel/internal/dynamicfilters"
)

// ServiceConfig is the parsed service config object model; only the parsed
// form is consumed here, JSON parsing itself is out of scope. Raw is
// retained verbatim because "service config changed" detection is done by
// byte-identical comparison of Raw rather than a structural-equality pass.
type ServiceConfig struct {
	Raw            string
	LBPolicyName   string
	LBPolicyConfig any
	RetryEnabled   bool
	MethodConfig   map[string]MethodConfig
}

// MethodConfig is the per-method view of a ServiceConfig.
type MethodConfig struct {
	Timeout           *int64 // nanoseconds; carried in the call's CallConfig, not applied to its deadline
	WaitForReadyDefault bool
}

// configSelectorHolder is the saved-config-selector slot: nil is a valid
// value meaning "no selector has been chosen yet", distinct from a
// concrete configselector.Selector.
type configSelectorHolder = configselector.Selector

// selectorFromArgs extracts a config selector placed under
// ConfigSelectorArgsKey, falling back to a selector
// derived from cfg when the resolver supplied none.
func (c *Channel) selectorFromArgs(args map[string]any, cfg *ServiceConfig) configSelectorHolder {
	if args != nil {
		if v, ok := args[ConfigSelectorArgsKey]; ok {
			if sel, ok := v.(configselector.Selector); ok {
				return sel
			}
		}
	}
	return newDefaultConfigSelector(cfg, c.opts.defaultSelectorFilter)
}

// stripConfigSelector returns a copy of args with ConfigSelectorArgsKey
// removed.
func stripConfigSelector(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if k == ConfigSelectorArgsKey {
			continue
		}
		out[k] = v
	}
	return out
}

// selectorsEqual compares two config selectors, treating nil as only equal
// to nil.
func selectorsEqual(a, b configSelectorHolder) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

// defaultConfigSelector routes every call with MethodConfig looked up by
// longest-prefix match ("/service/method", then "/service/", then the
// global default), contributing the channel's default selector filters
// (WithDefaultSelectorFilters); used whenever the resolver supplied no
// selector of its own.
type defaultConfigSelector struct {
	cfg     *ServiceConfig
	filters []configselector.Filter
}

func newDefaultConfigSelector(cfg *ServiceConfig, filters []configselector.Filter) *defaultConfigSelector {
	return &defaultConfigSelector{cfg: cfg, filters: filters}
}

func (s *defaultConfigSelector) GetCallConfig(args configselector.CallConfigArgs) (*configselector.CallConfig, error) {
	return &configselector.CallConfig{
		MethodConfig: s.lookupMethodConfig(args.Method),
	}, nil
}

// lookupMethodConfig finds the method config for method by longest-prefix
// match: the exact "/service/method" entry, then the service-level
// "/service/" entry, then the global "" default. A method that matches
// nothing returns the zero value.
func (s *defaultConfigSelector) lookupMethodConfig(method string) MethodConfig {
	if s.cfg == nil {
		return MethodConfig{}
	}
	if mc, ok := s.cfg.MethodConfig[method]; ok {
		return mc
	}
	if idx := strings.LastIndexByte(method, '/'); idx >= 0 {
		if mc, ok := s.cfg.MethodConfig[method[:idx+1]]; ok {
			return mc
		}
	}
	return s.cfg.MethodConfig[""]
}

func (s *defaultConfigSelector) GetFilters() []configselector.Filter { return s.filters }

func (s *defaultConfigSelector) Equal(other configselector.Selector) bool {
	o, ok := other.(*defaultConfigSelector)
	if !ok {
		return false
	}
	if s.cfg == nil || o.cfg == nil {
		return s.cfg == o.cfg
	}
	return s.cfg.Raw == o.cfg.Raw
}

// buildDynamicFilters assembles the filter chain for one data-plane
// publication: config-selector filters first, then either
// the retry filter (if retries are enabled and the channel is not in
// minimal-stack mode) or a dynamic termination filter.
func (c *Channel) buildDynamicFilters(cfg *ServiceConfig, sel configSelectorHolder) *dynamicfilters.DynamicFilters {
	var filters []configselector.Filter
	if sel != nil {
		filters = append(filters, sel.GetFilters()...)
	}
	retriesEnabled := cfg != nil && cfg.RetryEnabled && !c.opts.minimalStack
	if retriesEnabled {
		filters = append(filters, retryFilter{})
	} else {
		filters = append(filters, dynamicTerminationFilter{})
	}
	return dynamicfilters.Create(filters, nil)
}

// retryFilter is a marker filter: the actual retry/hedging mechanics are
// out of scope for this core; its presence in the stack
// records that retries are enabled for observability.
type retryFilter struct{}

func (retryFilter) Name() string { return "retry" }

// dynamicTerminationFilter immediately delegates to the LB call.
type dynamicTerminationFilter struct{}

func (dynamicTerminationFilter) Name() string { return "dynamic-termination" }

func (dynamicTerminationFilter) Run(ctx context.Context, args dynamicfilters.CallArgs, next func(context.Context) error) error {
	return next(ctx)
}

// publishDataPlane atomically replaces the data-plane triple under the
// resolution mutex, clears resolver-transient-failure, and wakes every
// resolver-queued call.
func (c *Channel) publishDataPlane(cfg *ServiceConfig, sel configSelectorHolder) {
	oldFilters := c.dataPlaneFilters
	newFilters := c.buildDynamicFilters(cfg, sel)

	c.resMu.Lock()
	c.dataPlaneServiceConfig = cfg
	c.dataPlaneConfigSelector = sel
	c.dataPlaneFilters = newFilters
	c.resolverTransientFailureErr = nil
	queued := c.drainResolverQueueLocked()
	c.resMu.Unlock()

	if oldFilters != nil {
		oldFilters.Release()
	}

	c.trace.Add(chantrace.SeverityInfo, "data-plane triple published", c.now())
	for _, call := range queued {
		call.wakeFromResolverQueue()
	}
}
