package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/assessment/store"
)

func insertConversationTurn(ctx context.Context, q querier, sessionID string, turn *store.ConversationTurn, now int64) error {
	turn.SessionID = sessionID
	if turn.CreatedTs == 0 {
		turn.CreatedTs = now
	}
	fields := []string{"session_id", "sequence", "uid", "request_id", "module", "inbound", "outbound", "source", "created_ts"}
	args := []any{turn.SessionID, turn.Sequence, turn.UID, turn.RequestID, turn.Module, turn.Inbound, turn.Outbound, turn.Source, turn.CreatedTs}
	stmt := `INSERT INTO assessment_turn (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(store.ErrConcurrentModification, "turn %d of session %s already recorded", turn.Sequence, sessionID)
		}
		return errors.Wrap(err, "failed to insert conversation turn")
	}
	return nil
}

func insertModuleTransition(ctx context.Context, q querier, sessionID string, transition *store.ModuleTransition, now int64) error {
	transition.SessionID = sessionID
	if transition.CreatedTs == 0 {
		transition.CreatedTs = now
	}
	stmt := `INSERT INTO assessment_module_transition (session_id, from_module, to_module, reason, created_ts) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if err := q.QueryRowContext(ctx, stmt, transition.SessionID, transition.FromModule, transition.ToModule, string(transition.Reason), transition.CreatedTs).Scan(&transition.ID); err != nil {
		return errors.Wrap(err, "failed to insert module transition")
	}
	return nil
}

func (d *DB) ListConversationTurns(ctx context.Context, find *store.FindConversationTurn) ([]*store.ConversationTurn, error) {
	where, args := []string{"session_id = $1"}, []any{find.SessionID}
	if find.AfterSequence != nil {
		where, args = append(where, "sequence > "+placeholder(len(args)+1)), append(args, *find.AfterSequence)
	}
	query := `SELECT session_id, sequence, uid, request_id, module, inbound, outbound, source, created_ts
		FROM assessment_turn WHERE ` + strings.Join(where, " AND ") + ` ORDER BY sequence ASC`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversation turns")
	}
	defer rows.Close()

	list := make([]*store.ConversationTurn, 0)
	for rows.Next() {
		turn := &store.ConversationTurn{}
		if err := rows.Scan(&turn.SessionID, &turn.Sequence, &turn.UID, &turn.RequestID, &turn.Module, &turn.Inbound, &turn.Outbound, &turn.Source, &turn.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation turn")
		}
		list = append(list, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate conversation turns")
	}
	return list, nil
}

func (d *DB) ListModuleTransitions(ctx context.Context, find *store.FindModuleTransition) ([]*store.ModuleTransition, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, session_id, from_module, to_module, reason, created_ts
		FROM assessment_module_transition WHERE session_id = $1 ORDER BY id ASC`, find.SessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list module transitions")
	}
	defer rows.Close()

	list := make([]*store.ModuleTransition, 0)
	for rows.Next() {
		transition := &store.ModuleTransition{}
		var reason string
		if err := rows.Scan(&transition.ID, &transition.SessionID, &transition.FromModule, &transition.ToModule, &reason, &transition.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan module transition")
		}
		transition.Reason = store.TransitionReason(reason)
		list = append(list, transition)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate module transitions")
	}
	return list, nil
}
