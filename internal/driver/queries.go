package driver

const (
	// SaveSummaryNodeQuery persists a distilled summary as a Memory node.
	SaveSummaryNodeQuery = `
		CREATE (s:Memory {
			app_id: $app_id,
			content: $content,
			content_cleaned: $content_cleaned,
			category: 'summary',
			tags: $tags,
			importance: $importance,
			metadata: $metadata,
			created_at: $created_at
		})
		RETURN elementId(s) AS s_eid
	`

	// LinkDistilledFromByAppIDQuery connects a freshly persisted summary to
	// its known origin.
	LinkDistilledFromByAppIDQuery = `
		MATCH (s:Memory {app_id: $s_app_id})
		MATCH (orig:Memory {app_id: $orig_app_id})
		MERGE (s)-[r:DISTILLED_FROM]->(orig)
		ON CREATE SET r.created_at = $now
		RETURN elementId(r) AS r_eid
	`

	// FindOrphanSummariesQuery returns summary nodes with no provenance
	// link, newest first.
	FindOrphanSummariesQuery = `
		MATCH (s:Memory)
		WHERE s.category = 'summary' AND NOT (s)-[:DISTILLED_FROM]->()
		RETURN elementId(s) AS s_eid, s.app_id AS s_app_id, s.created_at AS s_created_at,
		       s.content AS content, s.content_cleaned AS content_cleaned, s.tags AS tags
		ORDER BY s.created_at DESC
		SKIP $skip
		LIMIT $limit
	`

	// FindCandidateOriginsQuery returns a bounded set of non-summary nodes
	// to score against an orphaned summary.
	FindCandidateOriginsQuery = `
		MATCH (orig:Memory)
		WHERE (orig.category IS NULL OR orig.category <> 'summary')
		RETURN elementId(orig) AS orig_eid, orig.app_id AS orig_app_id,
		       orig.created_at AS orig_created_at, orig.content AS content,
		       orig.content_cleaned AS content_cleaned
		LIMIT $candidate_limit
	`

	// FindCandidateOriginsInWindowQuery narrows candidates to a created_at
	// window around the summary.
	FindCandidateOriginsInWindowQuery = `
		MATCH (orig:Memory)
		WHERE (orig.category IS NULL OR orig.category <> 'summary')
		  AND datetime(orig.created_at) >= datetime($min_dt)
		  AND datetime(orig.created_at) <= datetime($max_dt)
		RETURN elementId(orig) AS orig_eid, orig.app_id AS orig_app_id,
		       orig.created_at AS orig_created_at, orig.content AS content,
		       orig.content_cleaned AS content_cleaned
		LIMIT $candidate_limit
	`

	// FindCandidateOriginsSameAppInWindowQuery additionally requires the
	// candidate to share the summary's app_id.
	FindCandidateOriginsSameAppInWindowQuery = `
		MATCH (orig:Memory)
		WHERE (orig.category IS NULL OR orig.category <> 'summary')
		  AND datetime(orig.created_at) >= datetime($min_dt)
		  AND datetime(orig.created_at) <= datetime($max_dt)
		  AND orig.app_id = $s_app_id
		RETURN elementId(orig) AS orig_eid, orig.app_id AS orig_app_id,
		       orig.created_at AS orig_created_at, orig.content AS content,
		       orig.content_cleaned AS content_cleaned
		LIMIT $candidate_limit
	`

	// CommitDistilledFromQuery creates the provenance link for a scored
	// pair. MERGE makes the commit idempotent per endpoint pair, and the
	// single conditional write is what keeps check-then-create atomic.
	// Audit properties are only stamped on creation so a re-commit never
	// reassigns a relationship to a new run.
	CommitDistilledFromQuery = `
		MATCH (s), (orig)
		WHERE elementId(s) = $s_eid AND elementId(orig) = $orig_eid
		MERGE (s)-[r:DISTILLED_FROM]->(orig)
		ON CREATE SET r.auto_commit_run_id = $run_id,
		              r.auto_commit_score = $score,
		              r.auto_commit_delta = $delta,
		              r.auto_committed_by = $by,
		              r.auto_commit_ts = $now
		RETURN elementId(r) AS r_eid
	`

	// VerifyPairQuery checks one expected relationship.
	VerifyPairQuery = `
		MATCH (s:Memory)-[r:DISTILLED_FROM]->(o)
		WHERE elementId(s) = $s_eid AND elementId(o) = $orig_eid
		RETURN count(r) AS c
	`

	// FindCommitsByRunQuery lists the relationships a run created.
	FindCommitsByRunQuery = `
		MATCH (s:Memory)-[r:DISTILLED_FROM]->(o)
		WHERE r.auto_commit_run_id = $run_id
		RETURN elementId(s) AS s_eid, elementId(o) AS orig_eid, r.auto_commit_score AS score
	`

	// DeleteCommitsByRunQuery removes exactly the relationships tagged with
	// a run id; links from other runs and pre-existing links are untouched.
	DeleteCommitsByRunQuery = `
		MATCH (s:Memory)-[r:DISTILLED_FROM]->(o)
		WHERE r.auto_commit_run_id = $run_id
		DELETE r
		RETURN count(*) AS deleted
	`

	// DeleteCommitByPairQuery removes a single relationship by endpoints,
	// used for CSV-driven undo where the run id column may be absent.
	DeleteCommitByPairQuery = `
		MATCH (s:Memory)-[r:DISTILLED_FROM]->(o)
		WHERE elementId(s) = $s_eid AND elementId(o) = $orig_eid
		DELETE r
		RETURN count(*) AS deleted
	`
)
