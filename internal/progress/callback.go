// Package progress provides progress reporting for long-running analyses.
package progress

// Callback is a function that reports progress during long operations.
// Parameters:
//   - current: Number of units started so far (1-based)
//   - total: Total number of units
//   - message: Human-readable description of the unit being started
//
// A nil Callback is valid and will be safely ignored by the Call() helper.
type Callback func(current, total int, message string)

// Call safely invokes the callback if non-nil.
func Call(cb Callback, current, total int, message string) {
	if cb != nil {
		cb(current, total, message)
	}
}
