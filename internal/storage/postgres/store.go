// Package postgres implements scheduler.RunStore on top of pgx/v5's
// connection pool, grounded on a conventional internal/db.Client (pool
// construction, DATABASE_URL-driven connection) and db/queries.go
// (parameterized queries, JSON-column snapshots for nested structures).
// It is optional and substitutable: the in-memory scheduler.Store remains
// the default, and the core itself never imports this package.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/useVega/vega-protocol/internal/money"
	"github.com/useVega/vega-protocol/internal/scheduler"
	"github.com/useVega/vega-protocol/internal/xerrors"
)

// Schema is the DDL this store expects to already exist. Applying it is an
// operator concern (a migration tool), not something this package runs
// itself.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	workflow_id      TEXT NOT NULL,
	owner_user_id    TEXT NOT NULL,
	user_wallet      TEXT NOT NULL,
	status           TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	started_at       TIMESTAMPTZ,
	ended_at         TIMESTAMPTZ,
	chain            TEXT NOT NULL,
	token            TEXT NOT NULL,
	reserved_budget  BIGINT NOT NULL,
	spent_budget     BIGINT NOT NULL,
	output_node_id   TEXT,
	output           JSONB,
	error            TEXT
);

CREATE TABLE IF NOT EXISTS node_runs (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL REFERENCES runs(id),
	node_id         TEXT NOT NULL,
	agent_ref       TEXT NOT NULL,
	status          TEXT NOT NULL,
	started_at      TIMESTAMPTZ,
	ended_at        TIMESTAMPTZ,
	resolved_inputs JSONB,
	output          JSONB,
	cost            BIGINT NOT NULL,
	retry_count     INTEGER NOT NULL,
	error           TEXT,
	log_lines       JSONB
);
`

// Store is the Postgres-backed scheduler.RunStore.
type Store struct {
	pool *pgxpool.Pool
}

// Dial opens a connection pool against databaseURL (the DATABASE_URL
// convention a conventional cmd/server/main.go reads).
func Dial(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeState, err, "open postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, xerrors.Wrap(xerrors.CodeState, err, "ping postgres")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Create(run scheduler.Run) error {
	output, err := json.Marshal(run.Output)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeState, err, "marshal run output")
	}
	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO runs (id, workflow_id, owner_user_id, user_wallet, status, created_at,
			started_at, ended_at, chain, token, reserved_budget, spent_budget, output_node_id,
			output, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, run.ID, run.WorkflowID, run.OwnerUserID, run.UserWallet, string(run.Status), run.CreatedAt,
		run.StartedAt, run.EndedAt, run.Chain, run.Token, uint64(run.ReservedBudget), uint64(run.SpentBudget),
		run.OutputNodeID, output, run.Error)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeState, err, "insert run")
	}
	return nil
}

func (s *Store) Get(runID string) (scheduler.Run, error) {
	row := s.pool.QueryRow(context.Background(), `
		SELECT id, workflow_id, owner_user_id, user_wallet, status, created_at, started_at,
			ended_at, chain, token, reserved_budget, spent_budget, output_node_id, output, error
		FROM runs WHERE id = $1
	`, runID)
	return scanRun(row)
}

func (s *Store) Update(run scheduler.Run) error {
	output, err := json.Marshal(run.Output)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeState, err, "marshal run output")
	}
	tag, err := s.pool.Exec(context.Background(), `
		UPDATE runs SET status=$2, started_at=$3, ended_at=$4, spent_budget=$5,
			output_node_id=$6, output=$7, error=$8
		WHERE id=$1
	`, run.ID, string(run.Status), run.StartedAt, run.EndedAt, uint64(run.SpentBudget),
		run.OutputNodeID, output, run.Error)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeState, err, "update run")
	}
	if tag.RowsAffected() == 0 {
		return xerrors.New(xerrors.CodeState, "run not found: "+run.ID)
	}
	return nil
}

func (s *Store) List() ([]scheduler.Run, error) {
	rows, err := s.pool.Query(context.Background(), `
		SELECT id, workflow_id, owner_user_id, user_wallet, status, created_at, started_at,
			ended_at, chain, token, reserved_budget, spent_budget, output_node_id, output, error
		FROM runs ORDER BY created_at
	`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeState, err, "list runs")
	}
	defer rows.Close()

	var out []scheduler.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) CreateNodeRun(nr scheduler.NodeRun) error {
	resolvedInputs, err := json.Marshal(nr.ResolvedInputs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeState, err, "marshal node run inputs")
	}
	output, err := json.Marshal(nr.Output)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeState, err, "marshal node run output")
	}
	logLines, err := json.Marshal(nr.LogLines)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeState, err, "marshal node run log lines")
	}
	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO node_runs (id, run_id, node_id, agent_ref, status, started_at, ended_at,
			resolved_inputs, output, cost, retry_count, error, log_lines)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, nr.ID, nr.RunID, nr.NodeID, nr.AgentRef, string(nr.Status), nr.StartedAt, nr.EndedAt,
		resolvedInputs, output, uint64(nr.Cost), nr.RetryCount, nr.Error, logLines)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeState, err, "insert node run")
	}
	return nil
}

func (s *Store) UpdateNodeRun(nr scheduler.NodeRun) error {
	output, err := json.Marshal(nr.Output)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeState, err, "marshal node run output")
	}
	tag, err := s.pool.Exec(context.Background(), `
		UPDATE node_runs SET status=$2, ended_at=$3, output=$4, cost=$5, retry_count=$6, error=$7
		WHERE id=$1
	`, nr.ID, string(nr.Status), nr.EndedAt, output, uint64(nr.Cost), nr.RetryCount, nr.Error)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeState, err, "update node run")
	}
	if tag.RowsAffected() == 0 {
		return xerrors.New(xerrors.CodeState, "node run not found: "+nr.ID)
	}
	return nil
}

func (s *Store) NodeRunsForRun(runID string) ([]scheduler.NodeRun, error) {
	rows, err := s.pool.Query(context.Background(), `
		SELECT id, run_id, node_id, agent_ref, status, started_at, ended_at, resolved_inputs,
			output, cost, retry_count, error, log_lines
		FROM node_runs WHERE run_id = $1 ORDER BY started_at
	`, runID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeState, err, "list node runs")
	}
	defer rows.Close()

	var out []scheduler.NodeRun
	for rows.Next() {
		nr, err := scanNodeRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, nr)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (scheduler.Run, error) {
	var run scheduler.Run
	var status string
	var reserved, spent uint64
	var output []byte
	var startedAt, endedAt *time.Time

	err := row.Scan(&run.ID, &run.WorkflowID, &run.OwnerUserID, &run.UserWallet, &status,
		&run.CreatedAt, &startedAt, &endedAt, &run.Chain, &run.Token, &reserved, &spent,
		&run.OutputNodeID, &output, &run.Error)
	if err != nil {
		if err == pgx.ErrNoRows {
			return scheduler.Run{}, xerrors.New(xerrors.CodeState, "run not found")
		}
		return scheduler.Run{}, xerrors.Wrap(xerrors.CodeState, err, "scan run row")
	}

	run.Status = scheduler.RunStatus(status)
	run.StartedAt = startedAt
	run.EndedAt = endedAt
	run.ReservedBudget = money.Atomic(reserved)
	run.SpentBudget = money.Atomic(spent)
	if len(output) > 0 {
		if err := json.Unmarshal(output, &run.Output); err != nil {
			return scheduler.Run{}, xerrors.Wrap(xerrors.CodeState, err, "unmarshal run output")
		}
	}
	return run, nil
}

func scanNodeRun(row rowScanner) (scheduler.NodeRun, error) {
	var nr scheduler.NodeRun
	var status string
	var cost uint64
	var resolvedInputs, output, logLines []byte
	var startedAt, endedAt *time.Time

	err := row.Scan(&nr.ID, &nr.RunID, &nr.NodeID, &nr.AgentRef, &status, &startedAt, &endedAt,
		&resolvedInputs, &output, &cost, &nr.RetryCount, &nr.Error, &logLines)
	if err != nil {
		return scheduler.NodeRun{}, xerrors.Wrap(xerrors.CodeState, err, "scan node run row")
	}

	nr.Status = scheduler.NodeRunStatus(status)
	nr.StartedAt = startedAt
	nr.EndedAt = endedAt
	nr.Cost = money.Atomic(cost)
	if len(resolvedInputs) > 0 {
		if err := json.Unmarshal(resolvedInputs, &nr.ResolvedInputs); err != nil {
			return scheduler.NodeRun{}, xerrors.Wrap(xerrors.CodeState, err, "unmarshal resolved inputs")
		}
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &nr.Output); err != nil {
			return scheduler.NodeRun{}, xerrors.Wrap(xerrors.CodeState, err, "unmarshal node run output")
		}
	}
	if len(logLines) > 0 {
		if err := json.Unmarshal(logLines, &nr.LogLines); err != nil {
			return scheduler.NodeRun{}, xerrors.Wrap(xerrors.CodeState, err, "unmarshal log lines")
		}
	}
	return nr, nil
}
