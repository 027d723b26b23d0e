package featureflag

type Flag string

const (
	// Area update events are not sent to clients. Clients still receive add
	// and remove events.
	FlagDisableAreaUpdateEvents Flag = "DISABLE_AREA_UPDATE_EVENTS"

	FlagDisableSyncClock Flag = "DISABLE_SYNC_CLOCK"

	// Session worlds keep the lines of removed elements.
	FlagDisableLinePruning Flag = "DISABLE_LINE_PRUNING"
)
