package clientchannel

import "github.com/joeycumines/go-clientchannel/internal/dynamicfilters"

// The resolution-mutex-protected fields on Channel (dataPlaneServiceConfig,
// dataPlaneConfigSelector, dataPlaneFilters, resolverTransientFailureErr,
// resolverQueue) are the data-plane triple, the resolver-transient-failure
// error, and the resolver-queued calls set. Everything in this file assumes
// c.resMu is already held by the caller unless documented otherwise.

// addToResolverQueueLocked registers call in the resolver-queued-calls set. Must
// run with c.resMu held.
func (c *Channel) addToResolverQueueLocked(call *CallCore) {
	if c.resolverQueue == nil {
		c.resolverQueue = make(map[*CallCore]struct{})
	}
	c.resolverQueue[call] = struct{}{}
}

// removeFromResolverQueue removes call from the resolver-queued-calls set,
// used by cancellation. Safe to call even if call is not queued.
func (c *Channel) removeFromResolverQueue(call *CallCore) {
	c.resMu.Lock()
	delete(c.resolverQueue, call)
	c.resMu.Unlock()
}

// drainResolverQueueLocked snapshots and clears the resolver-queued-calls
// set. Must run with c.resMu held.
func (c *Channel) drainResolverQueueLocked() []*CallCore {
	if len(c.resolverQueue) == 0 {
		return nil
	}
	out := make([]*CallCore, 0, len(c.resolverQueue))
	for call := range c.resolverQueue {
		out = append(out, call)
	}
	c.resolverQueue = make(map[*CallCore]struct{})
	return out
}

// snapshotDataPlane reads the current data-plane triple under resMu.
func (c *Channel) snapshotDataPlane() (cfg *ServiceConfig, sel configSelectorHolder, filters *dynamicfilters.DynamicFilters, resolverErr error, ok bool) {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	if c.dataPlaneServiceConfig == nil && c.dataPlaneFilters == nil {
		return nil, nil, nil, c.resolverTransientFailureErr, false
	}
	return c.dataPlaneServiceConfig, c.dataPlaneConfigSelector, c.dataPlaneFilters, c.resolverTransientFailureErr, true
}
