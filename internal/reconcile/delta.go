package reconcile

// Delta partitions required and held keys.
//
//	ToGrant  = required - held
//	ToRevoke = held - required
//	Keep     = required ∩ held
//
// Each slice is free of duplicates and keeps the order in which keys first
// appear in its source input.
type Delta[K comparable] struct {
	ToGrant  []K
	ToRevoke []K
	Keep     []K
}

// ComputeDelta returns the delta between required and held. Duplicate keys in
// either input are collapsed.
func ComputeDelta[K comparable](required, held []K) Delta[K] {
	heldSet := make(map[K]struct{}, len(held))
	for _, k := range held {
		heldSet[k] = struct{}{}
	}
	requiredSet := make(map[K]struct{}, len(required))

	var d Delta[K]
	for _, k := range required {
		if _, seen := requiredSet[k]; seen {
			continue
		}
		requiredSet[k] = struct{}{}
		if _, ok := heldSet[k]; ok {
			d.Keep = append(d.Keep, k)
		} else {
			d.ToGrant = append(d.ToGrant, k)
		}
	}

	revoked := make(map[K]struct{})
	for _, k := range held {
		if _, ok := requiredSet[k]; ok {
			continue
		}
		if _, seen := revoked[k]; seen {
			continue
		}
		revoked[k] = struct{}{}
		d.ToRevoke = append(d.ToRevoke, k)
	}
	return d
}
