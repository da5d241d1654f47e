package core

import "time"

// SyncRecord is the persisted state of one payload slot.
type SyncRecord struct {
	TokenHash string    `json:"-"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Size returns the payload length in bytes.
func (r SyncRecord) Size() int {
	return len(r.Payload)
}

// OperationClass groups relay operations that share a rate limit.
type OperationClass string

const (
	ClassWrite OperationClass = "write"
	ClassRead  OperationClass = "read"
)

// Operation names a relay operation for logs and metrics.
type Operation string

const (
	OperationStore  Operation = "store"
	OperationFetch  Operation = "fetch"
	OperationDelete Operation = "delete"
)

// Class returns the rate limit class of the operation.
func (o Operation) Class() OperationClass {
	if o == OperationFetch {
		return ClassRead
	}
	return ClassWrite
}
