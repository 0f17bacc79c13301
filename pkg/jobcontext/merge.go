// Package jobcontext implements the Context Propagator (spec §4.2): the
// merge rules governing how a child job's declared output folds into its
// parent's context.
package jobcontext

import "github.com/cuemby/pacemaker/pkg/types"

// instancesKey is the reserved context key that accumulates union-style
// across parallel heart jobs instead of being overwritten (spec §4.2).
const instancesKey = "instances"

// Merge folds fragment into dst and returns the result. Keys are
// shallow-merged with later-writer-wins, except instancesKey which unions
// map[string]interface{} values so that parallel heart jobs across nodes
// coexist instead of clobbering each other.
func Merge(dst types.Context, fragment types.Context) types.Context {
	if dst == nil {
		dst = types.Context{}
	}
	for k, v := range fragment {
		if k == instancesKey {
			dst[k] = mergeInstances(dst[k], v)
			continue
		}
		dst[k] = v
	}
	return dst
}

func mergeInstances(existing, incoming interface{}) interface{} {
	merged := map[string]interface{}{}
	if m, ok := existing.(map[string]interface{}); ok {
		for k, v := range m {
			merged[k] = v
		}
	}
	if m, ok := incoming.(map[string]interface{}); ok {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}
