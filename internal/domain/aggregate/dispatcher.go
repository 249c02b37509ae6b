// internal/domain/aggregate/dispatcher.go
package aggregate

import "context"

// Dispatcher hands a due notification to the delivery transport. The
// transport itself (FCM or otherwise) is outside this subsystem; callers mark
// the slot sent only after Dispatch returns nil.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, slot Slot) error
}
