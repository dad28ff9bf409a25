// Package types provides shared type definitions for the recall cache engine.
//
// # Health Types
//
// Health types report the operational state of the cache and its snapshot
// stores:
//
//	status := types.NewHealthyStatus("cache operational")
//	if status.IsHealthy() {
//	    // Probe round trip succeeded and all subsystems are clean.
//	}
//
//	degraded := types.NewDegradedStatus("snapshot persistence failing", map[string]any{
//	    "lastError": err.Error(),
//	})
//
// Diagnostic fields can be attached without pre-building the details map:
//
//	status = status.WithDetail("items", 1042).WithDetail("memoryBytes", 52_428_800)
//
// All types support JSON marshaling for exposure through monitoring endpoints.
package types
