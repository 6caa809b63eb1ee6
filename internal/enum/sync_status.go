package enum

type SyncStatus string

// A sync account is either idle or syncing. Failures surface through the
// account's progress fields while the status returns to idle, so a fresh sync
// can always start.
const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
)

func (t SyncStatus) String() string {
	return string(t)
}
