package clientchannel

import (
	"context"

	"github.com/joeycumines/go-clientchannel/internal/chanerrors"
	"github.com/joeycumines/go-clientchannel/internal/chantrace"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/resolver"
)

// Resolver is the collaborator interface a name resolver implements.
// Concrete resolvers (DNS, xDS, etc.) are out of scope for this core; only
// this contract is consumed.
type Resolver interface {
	Start()
	RequestReresolution()
	Shutdown()
}

// ServiceConfigResult is the ok+maybe-null-or-error service config a
// resolver result carries.
type ServiceConfigResult struct {
	// Config is the parsed service config. A nil Config with a nil Err
	// means "ok and null": use the channel's default.
	Config *ServiceConfig
	Err     error
}

// ConfigSelectorArgsKey is the well-known key under which a resolver may
// place a configselector.Selector in ResolverResult.Args.
const ConfigSelectorArgsKey = "clientchannel.config-selector"

// ResolverResult is one result reported by a resolver.
type ResolverResult struct {
	Addresses      []resolver.Address
	Err            error
	ServiceConfig  ServiceConfigResult
	ResolutionNote string
	Args           map[string]any
	HealthCallback func(error)
}

// ResolverResultHandler receives resolver outputs on the control-plane
// serializer and delegates to the channel.
type ResolverResultHandler interface {
	ReportResult(ResolverResult)
}

// resolverResultHandler implements ResolverResultHandler for one Channel.
// A generation counter distinguishes results from a resolver that has
// since been torn down from one still current, covering the case where the
// channel has shut down between dispatch and arrival, without requiring the
// resolver itself to stop calling back synchronously.
type resolverResultHandler struct {
	channel    *Channel
	generation uint64
}

// ReportResult schedules application of result onto the control-plane
// serializer, guaranteeing the ordering and mutual exclusion required
// relative to every other control-plane activity.
func (h *resolverResultHandler) ReportResult(result ResolverResult) {
	gen := h.generation
	h.channel.serializer.Schedule(func(context.Context) {
		h.channel.applyResolverResult(gen, result)
	})
}

// applyResolverResult applies one resolver result to the channel's
// data-plane and LB state. Must run on the control-plane serializer.
func (c *Channel) applyResolverResult(generation uint64, result ResolverResult) {
	if c.resolver == nil || generation != c.resolverGeneration {
		// Dropped: either shut down, or a stale resolver's callback arrived
		// after it was replaced.
		return
	}

	var (
		chosenConfig   *ServiceConfig
		chosenSelector configSelectorHolder
		changed        bool
	)

	switch {
	case result.ServiceConfig.Err != nil:
		if c.savedServiceConfig != nil {
			c.logger.Debug().Str("resolution_note", result.ResolutionNote).Log("service config error, continuing with previously-saved config")
			c.trace.Add(chantrace.SeverityWarning, "service config error, retaining saved config", c.now())
			chosenConfig = c.savedServiceConfig
			chosenSelector = c.savedConfigSelector
		} else {
			c.enterResolverTransientFailure(chanerrors.ResolverTransientFailure(result.ServiceConfig.Err))
			return
		}
	case result.ServiceConfig.Config == nil:
		chosenConfig = c.defaultServiceConfig
		chosenSelector = c.selectorFromArgs(result.Args, chosenConfig)
	default:
		chosenConfig = result.ServiceConfig.Config
		chosenSelector = c.selectorFromArgs(result.Args, chosenConfig)
	}

	lbName, lbConfig := chooseLBPolicy(chosenConfig, result.Args, c.lbPolicyHost.builders)

	changed = serviceConfigsDiffer(c.savedServiceConfig, chosenConfig) ||
		!selectorsEqual(c.savedConfigSelector, chosenSelector)

	if changed {
		c.savedServiceConfig = chosenConfig
		c.savedConfigSelector = chosenSelector
		c.trace.Add(chantrace.SeverityInfo, "control-plane view updated", c.now())
	}

	lbArgs := LBUpdateArgs{
		Addresses:      result.Addresses,
		ResolutionErr:  result.Err,
		Config:         lbConfig,
		ResolutionNote: result.ResolutionNote,
		Args:           stripConfigSelector(result.Args),
	}
	lbErr := c.lbPolicyHost.update(lbName, lbArgs)

	if changed {
		c.publishDataPlane(chosenConfig, chosenSelector)
	}

	if result.HealthCallback != nil {
		if lbErr != nil {
			result.HealthCallback(lbErr)
		} else {
			result.HealthCallback(nil)
		}
	}
}

// enterResolverTransientFailure records a resolver transient failure and
// wakes every resolver-queued call with err, unless the channel already
// has an LB policy masking it with a previous good resolution.
func (c *Channel) enterResolverTransientFailure(err error) {
	c.lbPolicyHost.mu.Lock()
	masked := c.lbPolicyHost.policy != nil
	c.lbPolicyHost.mu.Unlock()
	if masked {
		return
	}
	c.resMu.Lock()
	c.resolverTransientFailureErr = err
	queued := c.drainResolverQueueLocked()
	c.resMu.Unlock()

	c.stateTracker.SetState(connectivity.TransientFailure, err)
	c.trace.Add(chantrace.SeverityError, "resolver transient failure: "+err.Error(), c.now())
	for _, call := range queued {
		call.wakeFromResolverQueue()
	}
}

// serviceConfigsDiffer reports whether a and b represent different service
// configs, by byte-identical comparison of Raw, treating a nil
// ServiceConfig as only equal to another nil.
func serviceConfigsDiffer(a, b *ServiceConfig) bool {
	if a == nil || b == nil {
		return a != b
	}
	return a.Raw != b.Raw
}

// chooseLBPolicy picks the LB policy to install, preferring (in order) the
// service config's LBPolicyName with its LBPolicyConfig when a builder is
// registered under that name, else a name supplied in args under
// "clientchannel.lb-policy-name" when a builder is registered for it, else
// pick_first. ServiceConfig has no separate deprecated-name field, and an
// args-supplied policy is only checked for a registered builder, not for
// accepting an empty config.
func chooseLBPolicy(cfg *ServiceConfig, args map[string]any, builders map[string]LBPolicyBuilder) (name string, config any) {
	if cfg != nil && cfg.LBPolicyName != "" {
		if _, ok := builders[cfg.LBPolicyName]; ok {
			return cfg.LBPolicyName, cfg.LBPolicyConfig
		}
	}
	if v, ok := args["clientchannel.lb-policy-name"]; ok {
		if name, ok := v.(string); ok {
			if _, ok := builders[name]; ok {
				return name, nil
			}
		}
	}
	return "pick_first", nil
}
