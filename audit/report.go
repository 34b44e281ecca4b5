package audit

import (
	"context"
	"sort"
)

// ComplianceReport summarizes a window of the trail for HIPAA reporting.
type ComplianceReport struct {
	Window         Window
	TotalEntries   int
	ByStatus       map[Status]int
	PHIAccessCount int
	DistinctActors int
	// DeniedByResource counts clean denials per resource type, highest
	// first, for spotting probing behavior.
	DeniedByResource []ResourceCount
}

// ResourceCount pairs a resource type with an occurrence count.
type ResourceCount struct {
	ResourceType string
	Count        int
}

// BuildReport aggregates the window from any Store. Read-only.
func BuildReport(ctx context.Context, store Store, window Window) (*ComplianceReport, error) {
	entries, err := store.Query(ctx, Filter{Window: window})
	if err != nil {
		return nil, err
	}

	report := &ComplianceReport{
		Window:       window,
		TotalEntries: len(entries),
		ByStatus:     make(map[Status]int),
	}

	actors := make(map[string]struct{})
	denied := make(map[string]int)
	for _, e := range entries {
		report.ByStatus[e.Status]++
		if e.PHIAccessed {
			report.PHIAccessCount++
		}
		if e.ActorUserID != "" {
			actors[e.ActorUserID] = struct{}{}
		}
		if e.Status == StatusDenied && e.ResourceType != "" {
			denied[e.ResourceType]++
		}
	}
	report.DistinctActors = len(actors)

	for resource, count := range denied {
		report.DeniedByResource = append(report.DeniedByResource, ResourceCount{
			ResourceType: resource,
			Count:        count,
		})
	}
	sort.Slice(report.DeniedByResource, func(i, j int) bool {
		if report.DeniedByResource[i].Count != report.DeniedByResource[j].Count {
			return report.DeniedByResource[i].Count > report.DeniedByResource[j].Count
		}
		return report.DeniedByResource[i].ResourceType < report.DeniedByResource[j].ResourceType
	})

	return report, nil
}
