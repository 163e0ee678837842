package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/assessment/store"
)

const sessionColumns = `id, subject_id, workflow_id, status, current_module, module_history, module_state, last_reply, metadata, version, turn_count, created_ts, updated_ts, completed_ts`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func (d *DB) CreateSession(ctx context.Context, create *store.Session) (*store.Session, error) {
	history, err := marshalJSON(nonNilHistory(create.ModuleHistory))
	if err != nil {
		return nil, err
	}
	state, err := marshalJSON(nonNilStates(create.ModuleStates))
	if err != nil {
		return nil, err
	}
	lastReply, err := marshalReply(create.LastReply)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalJSON(nonNilMap(create.Metadata))
	if err != nil {
		return nil, err
	}

	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	create.UpdatedTs = create.CreatedTs
	create.Version = 1

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	args := []any{
		create.ID, create.SubjectID, create.WorkflowID, string(create.Status), create.CurrentModule,
		history, state, lastReply, metadata, create.Version, create.TurnCount,
		create.CreatedTs, create.UpdatedTs, create.CompletedTs,
	}
	stmt := `INSERT INTO assessment_session (` + sessionColumns + `) VALUES (` + placeholders(len(args)) + `)
		ON CONFLICT (id) DO NOTHING`
	result, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.Wrapf(store.ErrAlreadyExists, "session %s", create.ID)
		}
		return nil, errors.Wrap(err, "failed to insert session")
	}
	if affected, err := result.RowsAffected(); err != nil {
		return nil, errors.Wrap(err, "failed to read affected rows")
	} else if affected == 0 {
		return nil, errors.Wrapf(store.ErrAlreadyExists, "session %s", create.ID)
	}

	if err := upsertModuleResults(ctx, tx, create.ID, create.ModuleResults); err != nil {
		return nil, err
	}
	start := &store.ModuleTransition{ToModule: create.CurrentModule, Reason: store.TransitionStart, CreatedTs: create.CreatedTs}
	if err := insertModuleTransition(ctx, tx, create.ID, start, create.CreatedTs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit session")
	}
	return create, nil
}

func (d *DB) GetSession(ctx context.Context, id string) (*store.Session, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM assessment_session WHERE id = $1`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	results, err := listModuleResults(ctx, d.db, id)
	if err != nil {
		return nil, err
	}
	session.ModuleResults = results
	return session, nil
}

// ListSessions returns session summaries without module results.
func (d *DB) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.SubjectID; v != nil {
		where, args = append(where, "subject_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Status; v != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, string(*v))
	}

	query := `SELECT ` + sessionColumns + ` FROM assessment_session WHERE ` + strings.Join(where, " AND ") + ` ORDER BY updated_ts DESC, created_ts DESC, id ASC`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	list := make([]*store.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, session)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate sessions")
	}
	return list, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	session := update.Session
	history, err := marshalJSON(nonNilHistory(session.ModuleHistory))
	if err != nil {
		return nil, err
	}
	state, err := marshalJSON(nonNilStates(session.ModuleStates))
	if err != nil {
		return nil, err
	}
	lastReply, err := marshalReply(session.LastReply)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalJSON(nonNilMap(session.Metadata))
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt := `UPDATE assessment_session SET
		status = $1, current_module = $2, module_history = $3, module_state = $4, last_reply = $5, metadata = $6,
		turn_count = $7, updated_ts = $8, completed_ts = $9, version = version + 1
		WHERE id = $10 AND version = $11
		RETURNING version`
	var newVersion int64
	err = tx.QueryRowContext(ctx, stmt,
		string(session.Status), session.CurrentModule, history, state, lastReply, metadata,
		session.TurnCount, now, session.CompletedTs,
		session.ID, update.ExpectedVersion,
	).Scan(&newVersion)
	if errors.Is(err, sql.ErrNoRows) {
		var stored int64
		err := tx.QueryRowContext(ctx, "SELECT version FROM assessment_session WHERE id = $1", session.ID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(store.ErrNotFound, "session %s", session.ID)
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read session version")
		}
		return nil, errors.Wrapf(store.ErrConcurrentModification, "session %s: expected version %d, stored %d", session.ID, update.ExpectedVersion, stored)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to update session")
	}

	if err := upsertModuleResults(ctx, tx, session.ID, session.ModuleResults); err != nil {
		return nil, err
	}
	if turn := update.Turn; turn != nil {
		if err := insertConversationTurn(ctx, tx, session.ID, turn, now); err != nil {
			return nil, err
		}
	}
	if transition := update.Transition; transition != nil {
		if err := insertModuleTransition(ctx, tx, session.ID, transition, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit session update")
	}

	updated := session.Clone()
	updated.Version = newVersion
	updated.UpdatedTs = now
	return updated, nil
}

func scanSession(row scanner) (*store.Session, error) {
	session := &store.Session{}
	var status, history, state, lastReply, metadata string
	if err := row.Scan(
		&session.ID, &session.SubjectID, &session.WorkflowID, &status, &session.CurrentModule,
		&history, &state, &lastReply, &metadata, &session.Version, &session.TurnCount,
		&session.CreatedTs, &session.UpdatedTs, &session.CompletedTs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan session")
	}
	session.Status = store.SessionStatus(status)
	if err := unmarshalJSON(history, &session.ModuleHistory); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(state, &session.ModuleStates); err != nil {
		return nil, err
	}
	if lastReply != "" && lastReply != "null" {
		session.LastReply = &store.TurnReply{}
		if err := unmarshalJSON(lastReply, session.LastReply); err != nil {
			return nil, err
		}
	}
	if err := unmarshalJSON(metadata, &session.Metadata); err != nil {
		return nil, err
	}
	return session, nil
}

func listModuleResults(ctx context.Context, q querier, sessionID string) (map[string]*store.ModuleResult, error) {
	rows, err := q.QueryContext(ctx, "SELECT module, payload, completed_ts FROM assessment_module_result WHERE session_id = $1", sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list module results")
	}
	defer rows.Close()

	results := map[string]*store.ModuleResult{}
	for rows.Next() {
		result := &store.ModuleResult{}
		var payload string
		if err := rows.Scan(&result.Module, &payload, &result.CompletedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan module result")
		}
		if err := unmarshalJSON(payload, &result.Payload); err != nil {
			return nil, err
		}
		results[result.Module] = result
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate module results")
	}
	return results, nil
}

func upsertModuleResults(ctx context.Context, q querier, sessionID string, results map[string]*store.ModuleResult) error {
	stmt := `INSERT INTO assessment_module_result (session_id, module, payload, completed_ts) VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, module) DO UPDATE SET payload = EXCLUDED.payload, completed_ts = EXCLUDED.completed_ts`
	for module, result := range results {
		if result == nil {
			continue
		}
		payload, err := marshalJSON(nonNilMap(result.Payload))
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, stmt, sessionID, module, payload, result.CompletedTs); err != nil {
			return errors.Wrapf(err, "failed to upsert result of module %s", module)
		}
	}
	return nil
}
