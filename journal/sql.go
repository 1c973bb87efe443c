package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/riskengine/market"
)

// sqlStore is the database/sql journal shared by the SQLite and Postgres
// stores. Queries are written with ? placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	dollars bool // $1, $2, ... placeholders
}

func (s *sqlStore) q(query string) string {
	if !s.dollars {
		return query
	}
	return rebind(query)
}

// rebind rewrites ? placeholders as $n.
func rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Record(ctx context.Context, r Record) error {
	r = stamp(r)
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO records
		(id, time, strategy, instrument, action, direction, price, volume, outcome, ticket, realized_pnl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.Time.UTC(), r.Strategy, r.Instrument, string(r.Action), r.Direction.String(),
		r.Price, r.Volume, string(r.Outcome), r.Ticket, r.RealizedPnL, r.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", r.ID, err)
	}
	return nil
}

func (s *sqlStore) RecordEquity(ctx context.Context, e EquitySnapshot) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO equity
		(time, balance, equity, margin_used, free_margin, margin_level)
		VALUES (?, ?, ?, ?, ?, ?)`),
		e.Time.UTC(), e.Balance, e.Equity, e.MarginUsed, e.FreeMargin, e.MarginLevel,
	)
	if err != nil {
		return fmt.Errorf("insert equity: %w", err)
	}
	return nil
}

func (s *sqlStore) ListRecords(ctx context.Context, f Filter) ([]Record, error) {
	query := `
		SELECT id, time, strategy, instrument, action, direction, price, volume, outcome, ticket, realized_pnl, reason
		FROM records
		WHERE time >= ?`
	args := []any{f.Since.UTC()}
	if f.Strategy != "" {
		query += ` AND strategy = ?`
		args = append(args, f.Strategy)
	}
	if f.Instrument != "" {
		query += ` AND instrument = ?`
		args = append(args, f.Instrument)
	}
	query += ` ORDER BY time ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec             Record
			action, outcome string
			direction       string
			ts              time.Time
		)
		if err := rows.Scan(
			&rec.ID,
			&ts,
			&rec.Strategy,
			&rec.Instrument,
			&action,
			&direction,
			&rec.Price,
			&rec.Volume,
			&outcome,
			&rec.Ticket,
			&rec.RealizedPnL,
			&rec.Reason,
		); err != nil {
			return nil, err
		}
		rec.Time = ts.UTC()
		rec.Action = Action(action)
		rec.Outcome = Outcome(outcome)
		if rec.Direction, err = market.ParseDirection(direction); err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEquity returns snapshots in [start, end).
func (s *sqlStore) ListEquity(ctx context.Context, start, end time.Time) ([]EquitySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT time, balance, equity, margin_used, free_margin, margin_level
		FROM equity
		WHERE time >= ? AND time < ?
		ORDER BY time ASC`), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("list equity: %w", err)
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.Time, &e.Balance, &e.Equity, &e.MarginUsed, &e.FreeMargin, &e.MarginLevel); err != nil {
			return nil, err
		}
		e.Time = e.Time.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
