package redis

// Redis key naming conventions for export data.
// All keys are prefixed with "export:" to avoid collisions.

const keyPrefix = "export:"

// ── Job keys ──

// jobKey returns the Hash key for a job: export:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// tenantJobsKey returns the Sorted Set indexing a tenant's job IDs. All
// members share score 0 so lexical order is ID order.
func tenantJobsKey(tenantID string) string { return keyPrefix + "tenant_jobs:" + tenantID }

// ── Audit keys ──

// auditKey returns the List of audit entries for one job:
// export:audit:{tenant}:{jobID}
func auditKey(tenantID, jobID string) string {
	return keyPrefix + "audit:" + tenantID + ":" + jobID
}

// ── Schedule keys ──

// scheduleKey returns the key for a schedule entry: export:schedule:{id}
func scheduleKey(id string) string { return keyPrefix + "schedule:" + id }

// scheduleIDsKey is the Sorted Set tracking all schedule IDs.
const scheduleIDsKey = keyPrefix + "schedule_ids"

// ── Session keys ──

// sessionsKey returns the Hash of a tenant's sessions keyed by session ID.
func sessionsKey(tenantID string) string { return keyPrefix + "sessions:" + tenantID }
