package ecs

import (
	"slices"
)

// RegistryStats is a point-in-time summary of an EntityRegistry.
type RegistryStats struct {
	ArchetypeCount     int
	TotalEntityCount   int
	SingletonCount     int
	MemoryUsageBytes   int
	ArchetypeBreakdown []ArchetypeStats
	SingletonTypes     []string
}

// ArchetypeStats describes one archetype.
type ArchetypeStats struct {
	Signature        string
	ComponentTypes   []string
	EntityCount      int
	Stride           int
	MemoryUsageBytes int
}

// CollectStats gathers statistics about every archetype and singleton.
func (r *EntityRegistry) CollectStats() *RegistryStats {
	stats := &RegistryStats{
		ArchetypeCount:     len(r.ordered),
		TotalEntityCount:   r.entities.Len(),
		MemoryUsageBytes:   r.TotalMemoryUsageInBytes(),
		ArchetypeBreakdown: make([]ArchetypeStats, 0, len(r.ordered)),
	}

	for _, a := range r.ordered {
		names := make([]string, len(a.ids))
		for i, id := range a.ids {
			names[i] = r.components.meta(id).Name
		}
		stats.ArchetypeBreakdown = append(stats.ArchetypeBreakdown, ArchetypeStats{
			Signature:        a.signature.String(),
			ComponentTypes:   names,
			EntityCount:      a.Size(),
			Stride:           a.stride,
			MemoryUsageBytes: a.MemoryUsageInBytes(),
		})
	}

	for typ, meta := range r.singletons {
		if r.IsEntityValid(meta) {
			stats.SingletonTypes = append(stats.SingletonTypes, typ.String())
		}
	}
	slices.Sort(stats.SingletonTypes)
	stats.SingletonCount = len(stats.SingletonTypes)
	return stats
}
