package meta

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies timestamps for created, modified, touched and deleted records.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator mints ids for nodes, versions, guids and comments.
type IDGenerator interface {
	New() string
}

// UUIDGenerator mints random (v4) UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.NewString() }
