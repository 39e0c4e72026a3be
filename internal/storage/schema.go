// -----------------------------------------------------------------------
// Schema - idempotent DDL applied at startup
// -----------------------------------------------------------------------

package storage

// schemaStatements are applied in order on startup when migrate_on_start
// is set. Every statement is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sites (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		base_url TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS documents (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		clean_content TEXT NOT NULL DEFAULT '',
		mimetype TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		status_code INT NOT NULL DEFAULT 0,
		headers JSONB,
		links JSONB,
		crawl_timestamp BIGINT NOT NULL DEFAULT 0,
		metadata JSONB,
		crawler_id TEXT NOT NULL DEFAULT '',
		crawler_type TEXT NOT NULL DEFAULT '',
		version INT NOT NULL DEFAULT 1,
		index_operation TEXT NOT NULL DEFAULT 'new',
		is_indexed BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS documents_content_hash_idx ON documents (content_hash)`,

	`CREATE TABLE IF NOT EXISTS site_documents (
		id BIGSERIAL PRIMARY KEY,
		site_id TEXT NOT NULL REFERENCES sites (id) ON DELETE CASCADE,
		document_id BIGINT NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (site_id, document_id)
	)`,
	`CREATE INDEX IF NOT EXISTS site_documents_document_idx ON site_documents (document_id)`,

	`CREATE TABLE IF NOT EXISTS crawl_history (
		id BIGSERIAL PRIMARY KEY,
		document_id BIGINT NOT NULL,
		url TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		version INT NOT NULL,
		change_type TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		metadata JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS crawl_history_url_idx ON crawl_history (url)`,

	`CREATE TABLE IF NOT EXISTS crawl_policies (
		id BIGSERIAL PRIMARY KEY,
		site_id TEXT NOT NULL REFERENCES sites (id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		start_urls JSONB NOT NULL DEFAULT '[]',
		url_patterns JSONB NOT NULL DEFAULT '[]',
		exclude_patterns JSONB NOT NULL DEFAULT '[]',
		max_depth INT NOT NULL DEFAULT 3,
		max_urls INT NOT NULL DEFAULT 1000,
		crawl_delay DOUBLE PRECISION NOT NULL DEFAULT 0,
		crawler_type TEXT NOT NULL DEFAULT 'httpx',
		follow_robots_txt BOOLEAN NOT NULL DEFAULT true,
		discover_sitemap BOOLEAN NOT NULL DEFAULT false,
		respect_meta_robots BOOLEAN NOT NULL DEFAULT true,
		allow_subdomains BOOLEAN NOT NULL DEFAULT false,
		allow_external_links BOOLEAN NOT NULL DEFAULT false,
		allowed_content_types JSONB NOT NULL DEFAULT '[]',
		advanced_config JSONB,
		enabled BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_executed TIMESTAMPTZ,
		UNIQUE (site_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS schedule_tasks (
		id BIGSERIAL PRIMARY KEY,
		policy_id BIGINT NOT NULL REFERENCES crawl_policies (id) ON DELETE CASCADE,
		schedule_type TEXT NOT NULL,
		one_time_date TIMESTAMPTZ,
		interval_seconds BIGINT NOT NULL DEFAULT 0,
		cron_expression TEXT NOT NULL DEFAULT '',
		start_date TIMESTAMPTZ,
		end_date TIMESTAMPTZ,
		last_run TIMESTAMPTZ,
		next_run TIMESTAMPTZ,
		run_count INT NOT NULL DEFAULT 0,
		max_runs INT NOT NULL DEFAULT 0,
		enabled BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS refresh_policies (
		id BIGSERIAL PRIMARY KEY,
		site_id TEXT NOT NULL UNIQUE REFERENCES sites (id) ON DELETE CASCADE,
		strategy TEXT NOT NULL DEFAULT 'all',
		refresh_interval_days INT NOT NULL DEFAULT 7,
		url_patterns JSONB NOT NULL DEFAULT '[]',
		exclude_patterns JSONB NOT NULL DEFAULT '[]',
		priority_patterns JSONB NOT NULL DEFAULT '[]',
		max_age_days INT NOT NULL DEFAULT 0,
		enabled BOOLEAN NOT NULL DEFAULT true,
		last_refresh TIMESTAMPTZ,
		next_refresh TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}
