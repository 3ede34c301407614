package store

import "qms/lane-service/internal/models"

var transitionMap = map[models.Action][]string{
	models.ActionAdvance: {models.StatusWaiting},
	models.ActionServe:   {models.StatusWaiting, models.StatusCalled},
}

// ValidTransition reports whether a ticket in fromStatus may be moved by the
// action. Actions that leave tickets untouched never transition.
func ValidTransition(action models.Action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// TargetStatus is the status a ticket takes when the action applies to it.
func TargetStatus(action models.Action) (string, bool) {
	switch action {
	case models.ActionAdvance:
		return models.StatusCalled, true
	case models.ActionServe:
		return models.StatusServed, true
	case models.ActionRecall, models.ActionAlert:
		return "", false
	}
	return "", false
}
