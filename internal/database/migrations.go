package database

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE departments (
				id         BIGSERIAL PRIMARY KEY,
				name       VARCHAR(100) NOT NULL UNIQUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE TABLE positions (
				id          BIGSERIAL PRIMARY KEY,
				name        VARCHAR(100) NOT NULL UNIQUE,
				description VARCHAR(255) NOT NULL DEFAULT '',
				created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE TABLE users (
				id            BIGSERIAL PRIMARY KEY,
				username      VARCHAR(50) NOT NULL UNIQUE,
				full_name     VARCHAR(100) NOT NULL DEFAULT '',
				password_hash VARCHAR(255) NOT NULL,
				role          VARCHAR(20) NOT NULL CHECK (role IN ('employee', 'approver', 'admin')),
				is_active     BOOLEAN NOT NULL DEFAULT TRUE,
				department_id BIGINT REFERENCES departments(id) ON DELETE SET NULL,
				position_id   BIGINT REFERENCES positions(id) ON DELETE SET NULL,
				created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_users_position_id ON users(position_id);

			CREATE TABLE process_types (
				id              BIGSERIAL PRIMARY KEY,
				code            VARCHAR(50) NOT NULL UNIQUE,
				name            VARCHAR(200) NOT NULL,
				description     VARCHAR(255) NOT NULL DEFAULT '',
				requires_amount BOOLEAN NOT NULL DEFAULT FALSE,
				is_active       BOOLEAN NOT NULL DEFAULT TRUE,
				fields          JSONB NOT NULL DEFAULT '[]',
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
		2: `
			CREATE TABLE workflows (
				id                BIGSERIAL PRIMARY KEY,
				name              VARCHAR(200) NOT NULL,
				process_type_code VARCHAR(50) NOT NULL REFERENCES process_types(code) ON UPDATE CASCADE,
				is_active         BOOLEAN NOT NULL DEFAULT FALSE,
				created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT workflows_name_key UNIQUE (name)
			);

			-- At most one active workflow per process type.
			CREATE UNIQUE INDEX workflows_one_active_per_type
				ON workflows(process_type_code)
				WHERE is_active;

			CREATE TABLE workflow_nodes (
				id          BIGSERIAL PRIMARY KEY,
				workflow_id BIGINT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				step_order  INTEGER NOT NULL CHECK (step_order BETWEEN 1 AND 100),
				position_id BIGINT NOT NULL REFERENCES positions(id),
				node_name   VARCHAR(200) NOT NULL DEFAULT '',
				created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT workflow_nodes_step_key UNIQUE (workflow_id, step_order)
			);
		`,
		3: `
			CREATE TABLE requests (
				id            BIGSERIAL PRIMARY KEY,
				type_code     VARCHAR(50) NOT NULL REFERENCES process_types(code) ON UPDATE CASCADE,
				title         VARCHAR(200) NOT NULL,
				content       TEXT NOT NULL DEFAULT '',
				amount        DOUBLE PRECISION CHECK (amount IS NULL OR amount >= 0),
				form_data     JSONB NOT NULL DEFAULT '{}',
				status        VARCHAR(20) NOT NULL DEFAULT 'pending'
				              CHECK (status IN ('pending', 'approved', 'rejected')),
				creator_id    BIGINT NOT NULL REFERENCES users(id),
				workflow_id   BIGINT REFERENCES workflows(id) ON DELETE SET NULL,
				workflow_name VARCHAR(200) NOT NULL DEFAULT '',
				created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_requests_creator_id ON requests(creator_id);
			CREATE INDEX idx_requests_status ON requests(status);

			CREATE TABLE request_nodes (
				id                 BIGSERIAL PRIMARY KEY,
				request_id         BIGINT NOT NULL REFERENCES requests(id),
				template_node_id   BIGINT REFERENCES workflow_nodes(id) ON DELETE SET NULL,
				step_order         INTEGER NOT NULL,
				position_id        BIGINT NOT NULL,
				node_name          VARCHAR(200) NOT NULL DEFAULT '',
				status             VARCHAR(20) NOT NULL
				                   CHECK (status IN ('not_started', 'pending', 'approved', 'rejected')),
				decided_by_user_id BIGINT REFERENCES users(id),
				decided_at         TIMESTAMPTZ,
				CONSTRAINT request_nodes_step_key UNIQUE (request_id, step_order)
			);

			CREATE INDEX idx_request_nodes_pending ON request_nodes(position_id) WHERE status = 'pending';

			CREATE TABLE approval_history (
				id               BIGSERIAL PRIMARY KEY,
				request_id       BIGINT NOT NULL REFERENCES requests(id),
				node_instance_id BIGINT NOT NULL REFERENCES request_nodes(id),
				approver_user_id BIGINT NOT NULL REFERENCES users(id),
				decision         VARCHAR(20) NOT NULL CHECK (decision IN ('approved', 'rejected')),
				comment          TEXT NOT NULL DEFAULT '',
				decided_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_approval_history_request ON approval_history(request_id, decided_at);

			CREATE FUNCTION approval_history_immutable() RETURNS trigger AS $$
			BEGIN
				RAISE EXCEPTION 'approval_history is append-only';
			END;
			$$ LANGUAGE plpgsql;

			CREATE TRIGGER approval_history_no_update
				BEFORE UPDATE OR DELETE ON approval_history
				FOR EACH ROW EXECUTE FUNCTION approval_history_immutable();
		`,
		4: `
			CREATE TABLE announcements (
				id         BIGSERIAL PRIMARY KEY,
				title      VARCHAR(200) NOT NULL,
				content    TEXT NOT NULL DEFAULT '',
				created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_announcements_created_at ON announcements(created_at DESC);
		`,
	}
}
