package store

import (
	"fmt"
	"strings"
)

const stalledMessage = "Job stalled (timeout exceeded)"

// jobColumnNames is the scan order shared by every statement that returns
// whole jobs; see scanJob.
var jobColumnNames = []string{
	"id", "type", "payload", "status", "queue", "priority", "attempts",
	"max_retries", "backoff", "timeout_ms", "unique_key", "run_at",
	"started_at", "finished_at", "last_error", "metadata", "created_at",
	"updated_at",
}

func columnList(alias string) string {
	if alias == "" {
		return strings.Join(jobColumnNames, ", ")
	}
	cols := make([]string, len(jobColumnNames))
	for i, c := range jobColumnNames {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

// statements holds every SQL string with the table name already
// interpolated. The name is validated before buildStatements runs.
type statements struct {
	schema         string
	insert         string
	insertUnique   string
	findUnique     string
	fetch          string
	complete       string
	failLookup     string
	failDead       string
	failRetry      string
	recoverStalled string
	retry          string
	get            string
	deleteJob      string
	purge          string
	purgeReturning string
	stats          string
	statsQueue     string
}

// uniqueActivePredicate must match the partial index predicate exactly so
// ON CONFLICT can infer it.
const uniqueActivePredicate = `unique_key IS NOT NULL AND status IN ('pending', 'active')`

func buildStatements(table string) statements {
	t := quoteIdent(table)
	cols := columnList("")
	jcols := columnList("j")

	insert := fmt.Sprintf(`
		INSERT INTO %s (id, type, payload, status, queue, priority, attempts, max_retries,
			backoff, timeout_ms, unique_key, run_at, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', $4, $5, 0, $6, $7, $8, $9, $10, $11, NOW(), NOW())`, t)

	return statements{
		schema: fmt.Sprintf(`
SELECT pg_advisory_xact_lock(hashtext('%[5]s'));
CREATE TABLE IF NOT EXISTS %[1]s (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	payload     JSONB,
	status      TEXT NOT NULL DEFAULT 'pending',
	queue       TEXT NOT NULL DEFAULT 'default',
	priority    SMALLINT NOT NULL DEFAULT 5 CHECK (priority BETWEEN 0 AND 9),
	attempts    INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	backoff     JSONB,
	timeout_ms  BIGINT NOT NULL DEFAULT 30000,
	unique_key  TEXT,
	run_at      TIMESTAMPTZ,
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	last_error  TEXT,
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS %[2]s ON %[1]s (unique_key) WHERE %[6]s;
CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s (queue, status, priority, run_at NULLS FIRST, created_at);
CREATE INDEX IF NOT EXISTS %[4]s ON %[1]s (started_at) WHERE status = 'active';`,
			t,
			quoteIdent(table+"_unique_key_idx"),
			quoteIdent(table+"_fetch_idx"),
			quoteIdent(table+"_stalled_idx"),
			table,
			uniqueActivePredicate,
		),

		insert: insert + " RETURNING " + cols,

		insertUnique: insert + fmt.Sprintf(`
		ON CONFLICT (unique_key) WHERE %s DO NOTHING
		RETURNING %s`, uniqueActivePredicate, cols),

		findUnique: fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE unique_key = $1 AND status IN ('pending', 'active')
		ORDER BY created_at ASC
		LIMIT 1`, cols, t),

		fetch: fmt.Sprintf(`
		WITH claimed AS (
			SELECT id FROM %[1]s
			WHERE queue = $1
			  AND status = 'pending'
			  AND (run_at IS NULL OR run_at <= NOW())
			ORDER BY priority ASC, run_at ASC NULLS FIRST, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE %[1]s AS j
		SET status = 'active', started_at = NOW(), attempts = j.attempts + 1, updated_at = NOW()
		FROM claimed
		WHERE j.id = claimed.id
		RETURNING %[2]s`, t, jcols),

		complete: fmt.Sprintf(`
		UPDATE %s SET status = 'completed', finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING queue, type`, t),

		failLookup: fmt.Sprintf(`
		SELECT queue, type, attempts, max_retries, backoff FROM %s
		WHERE id = $1 AND status = 'active'`, t),

		failDead: fmt.Sprintf(`
		UPDATE %s SET status = 'dead', last_error = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'active'`, t),

		failRetry: fmt.Sprintf(`
		UPDATE %s SET status = 'pending', last_error = $2,
			run_at = NOW() + ($3::bigint * INTERVAL '1 millisecond'), updated_at = NOW()
		WHERE id = $1 AND status = 'active'`, t),

		recoverStalled: fmt.Sprintf(`
		WITH stalled AS (
			SELECT id FROM %[1]s
			WHERE status = 'active'
			  AND started_at IS NOT NULL
			  AND started_at + (timeout_ms * INTERVAL '1 millisecond') < NOW()
			FOR UPDATE SKIP LOCKED
		)
		UPDATE %[1]s AS j
		SET status      = CASE WHEN j.attempts >= j.max_retries THEN 'dead' ELSE 'pending' END,
		    last_error  = $1,
		    finished_at = CASE WHEN j.attempts >= j.max_retries THEN NOW() ELSE NULL END,
		    run_at      = CASE WHEN j.attempts >= j.max_retries THEN j.run_at ELSE NOW() END,
		    updated_at  = NOW()
		FROM stalled
		WHERE j.id = stalled.id
		RETURNING j.id, j.queue, j.type, j.status`, t),

		retry: fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending', attempts = 0, last_error = NULL, finished_at = NULL,
		    started_at = NULL, run_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'dead'
		RETURNING %s`, t, cols),

		get: fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, cols, t),

		deleteJob: fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t),

		purge: fmt.Sprintf(`
		DELETE FROM %s
		WHERE status = $1
		  AND COALESCE(finished_at, updated_at) < NOW() - ($2::bigint * INTERVAL '1 millisecond')`, t),

		purgeReturning: fmt.Sprintf(`
		DELETE FROM %s
		WHERE status = $1
		  AND COALESCE(finished_at, updated_at) < NOW() - ($2::bigint * INTERVAL '1 millisecond')
		RETURNING %s`, t, cols),

		stats: fmt.Sprintf(`
		SELECT queue,
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE status = 'dead'),
		       (EXTRACT(EPOCH FROM (NOW() - MIN(created_at) FILTER (WHERE status = 'pending'))) * 1000)::bigint
		FROM %s
		GROUP BY queue
		ORDER BY queue`, t),

		statsQueue: fmt.Sprintf(`
		SELECT queue,
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE status = 'dead'),
		       (EXTRACT(EPOCH FROM (NOW() - MIN(created_at) FILTER (WHERE status = 'pending'))) * 1000)::bigint
		FROM %s
		WHERE queue = $1
		GROUP BY queue`, t),
	}
}
