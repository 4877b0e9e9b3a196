package queue

const (
	TypeUsageRecord = "usage:record"
)

// QueueUsage carries metering events. It is the only queue the API enqueues to.
const QueueUsage = "usage"
