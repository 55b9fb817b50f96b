package rides

import "github.com/example/ride-dispatch/internal/models"

// edges is the forward-only lifecycle graph. canceled is reachable from every
// non-terminal state; completed and canceled have no outgoing edges.
var edges = map[models.RideStatus][]models.RideStatus{
	models.StatusPending:    {models.StatusRequested, models.StatusAccepted, models.StatusCanceled},
	models.StatusRequested:  {models.StatusAccepted, models.StatusCanceled},
	models.StatusAccepted:   {models.StatusInProgress, models.StatusCanceled},
	models.StatusInProgress: {models.StatusCompleted, models.StatusCanceled},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to models.RideStatus) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AwaitingDriver reports whether a ride in status s can still be accepted.
// pending is the canonical state; requested marks a ride that has already been
// broadcast to drivers and is accepted the same way.
func AwaitingDriver(s models.RideStatus) bool {
	return s == models.StatusPending || s == models.StatusRequested
}
