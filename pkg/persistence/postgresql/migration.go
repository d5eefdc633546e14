package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions and their ordered transitions
			CREATE TABLE workflow_definitions (
				id VARCHAR(64) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				initial_status VARCHAR(255) NOT NULL,
				final_statuses TEXT[] NOT NULL DEFAULT '{}',
				is_active BOOLEAN NOT NULL DEFAULT false,
				global_conditions JSONB,
				auto_assign_rules JSONB,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT workflow_definitions_tenant_name_key UNIQUE (tenant_id, name)
			);

			CREATE INDEX idx_workflow_definitions_tenant ON workflow_definitions(tenant_id);
			CREATE INDEX idx_workflow_definitions_active ON workflow_definitions(is_active);
			CREATE INDEX idx_workflow_definitions_created_at ON workflow_definitions(created_at);

			CREATE TABLE workflow_transitions (
				id VARCHAR(64) PRIMARY KEY,
				workflow_id VARCHAR(64) NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
				name VARCHAR(255) NOT NULL,
				from_status VARCHAR(255) NOT NULL,
				to_status VARCHAR(255) NOT NULL,
				condition JSONB,
				actions JSONB NOT NULL DEFAULT '[]',
				required_role VARCHAR(50) NOT NULL DEFAULT '',
				is_automatic BOOLEAN NOT NULL DEFAULT false,
				position INT NOT NULL
			);

			CREATE INDEX idx_workflow_transitions_workflow ON workflow_transitions(workflow_id, position);
			CREATE INDEX idx_workflow_transitions_automatic ON workflow_transitions(workflow_id) WHERE is_automatic;
		`,
		2: `
			-- Local ticket store and the records written by transition actions
			CREATE TABLE tickets (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(64) REFERENCES workflow_definitions(id) ON DELETE SET NULL,
				status VARCHAR(255) NOT NULL DEFAULT '',
				priority VARCHAR(50) NOT NULL DEFAULT '',
				tags TEXT[] NOT NULL DEFAULT '{}',
				assigned_to VARCHAR(255) NOT NULL DEFAULT '',
				team_id VARCHAR(255) NOT NULL DEFAULT '',
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				custom_fields JSONB NOT NULL DEFAULT '{}',
				version BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_tickets_workflow_status ON tickets(workflow_id, status);

			CREATE TABLE ticket_notes (
				id BIGSERIAL PRIMARY KEY,
				ticket_id VARCHAR(255) NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
				text TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE ticket_tasks (
				id BIGSERIAL PRIMARY KEY,
				ticket_id VARCHAR(255) NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
				title VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				assignee_id VARCHAR(255) NOT NULL DEFAULT '',
				due_in_seconds BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE ticket_followups (
				id BIGSERIAL PRIMARY KEY,
				ticket_id VARCHAR(255) NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
				due_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE ticket_escalations (
				id BIGSERIAL PRIMARY KEY,
				ticket_id VARCHAR(255) NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
				reason TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_ticket_notes_ticket ON ticket_notes(ticket_id);
			CREATE INDEX idx_ticket_tasks_ticket ON ticket_tasks(ticket_id);
			CREATE INDEX idx_ticket_followups_ticket ON ticket_followups(ticket_id);
			CREATE INDEX idx_ticket_escalations_ticket ON ticket_escalations(ticket_id);
		`,
		3: `
			-- Audit trail. Records outlive the definitions they refer to.
			CREATE TABLE execution_records (
				id VARCHAR(64) PRIMARY KEY,
				ticket_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(64) NOT NULL,
				transition_id VARCHAR(64) NOT NULL,
				from_status VARCHAR(255) NOT NULL,
				to_status VARCHAR(255) NOT NULL,
				executed_by VARCHAR(255) NOT NULL,
				automatic BOOLEAN NOT NULL DEFAULT false,
				sweep_pass_id VARCHAR(64) NOT NULL DEFAULT '',
				executed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				actions_applied JSONB NOT NULL DEFAULT '[]',
				outcome VARCHAR(50) NOT NULL
			);

			CREATE INDEX idx_execution_records_ticket ON execution_records(ticket_id, executed_at DESC);
			CREATE INDEX idx_execution_records_sweep_pass ON execution_records(sweep_pass_id) WHERE sweep_pass_id <> '';
		`,
	}
}
