package publisher

// IndexedRecord is a record together with its position in the batch given to
// Publish.
type IndexedRecord struct {
	Index  int
	Record Record
}

// DeliveredRecord is a record the transport acknowledged.
type DeliveredRecord struct {
	IndexedRecord
	Delivery Delivery
	Attempt  int
}

// FailedRecord is a record that was still failing when attempts ran out.
type FailedRecord struct {
	IndexedRecord
	ErrorCode    string
	ErrorMessage string
}

// Status summarises a Result.
type Status int

const (
	StatusDelivered Status = iota
	StatusPartial
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusPartial:
		return "partial"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result describes what happened to every record of a Publish call.
type Result struct {
	// Attempts is the number of submissions made.
	Attempts int
	// Submitted is the size of the original batch.
	Submitted int

	Delivered []DeliveredRecord
	// Failed lists records that never succeeded, with their last error.
	Failed []FailedRecord
	// Unsent lists records that were pending but not submitted because the
	// call was cancelled during a delay.
	Unsent []IndexedRecord
	// Unknown lists records that were in flight when the call was cancelled.
	Unknown []IndexedRecord
}

// Status reports whether everything, something or nothing was delivered.
func (r *Result) Status() Status {
	switch {
	case len(r.Unsent) > 0 || len(r.Unknown) > 0:
		return StatusCancelled
	case len(r.Failed) == 0:
		return StatusDelivered
	case len(r.Delivered) == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// FailedKeys returns the partition keys of permanently failed records.
func (r *Result) FailedKeys() []string {
	keys := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		keys = append(keys, f.Record.PartitionKey)
	}
	return keys
}
