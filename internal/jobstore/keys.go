package jobstore

// Redis key layout shared with package queue.

const (
	jobKeyPrefix = "job:"
	leasesKey    = "jobs:leases"
	userKeyFmt   = "jobs:user:"
)

// JobKey returns the key holding the JSON record of a job: job:{id}
func JobKey(id string) string { return jobKeyPrefix + id }

func userKey(userID string) string { return userKeyFmt + userID }
