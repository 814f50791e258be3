package persistence

import (
	"github.com/google/uuid"

	sqlassets "github.com/zenGate-Global/tenant-pool/database"
)

func sqlassetsPoolSlots() string { return sqlassets.PoolSlotsSQL }

func newTestUUID(t interface{ Helper() }) uuid.UUID {
	t.Helper()
	return uuid.New()
}
