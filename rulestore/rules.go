package rulestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quellhq/quell/dbopen"
	"github.com/quellhq/quell/rule"
)

const ruleColumns = `id, host, path_pattern, seq, type, selector, anchors, alternatives, description, style_props, amount, created_at`

// SaveRule persists a rule under (host, pathPattern), appending it to the end
// of the scope's order. Saving a selector that already exists in the scope
// updates the rule in place and keeps its position.
func (s *Store) SaveRule(ctx context.Context, host, pathPattern string, r rule.Rule) error {
	anchors, _ := json.Marshal(r.Anchors)
	alts, _ := json.Marshal(r.Alternatives)
	styles, _ := json.Marshal(r.StyleProps)
	if r.Alternatives == nil {
		alts = []byte("[]")
	}
	if r.StyleProps == nil {
		styles = []byte("{}")
	}
	now := time.Now().UnixMilli()

	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var seq int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM rules WHERE host = ? AND path_pattern = ?`,
			host, pathPattern).Scan(&seq)
		if err != nil {
			return fmt.Errorf("rulestore: next seq: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO rules
				(id, host, path_pattern, seq, type, selector, anchors, alternatives,
				 description, style_props, amount, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (host, path_pattern, selector) DO UPDATE SET
				type = excluded.type,
				anchors = excluded.anchors,
				alternatives = excluded.alternatives,
				description = excluded.description,
				style_props = excluded.style_props,
				amount = excluded.amount`,
			s.newID(), host, pathPattern, seq, string(r.Type), r.Selector,
			string(anchors), string(alts), r.Description, string(styles), r.Amount, now,
		)
		if err != nil {
			return fmt.Errorf("rulestore: save rule: %w", err)
		}
		return nil
	})
}

// RemoveRule deletes the rule with the given selector from every path scope
// of the host.
func (s *Store) RemoveRule(ctx context.Context, host, selector string) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`DELETE FROM rules WHERE host = ? AND selector = ?`, host, selector)
	if err != nil {
		return fmt.Errorf("rulestore: remove rule: %w", err)
	}
	return nil
}

// LoadRules returns every rule of the host whose path pattern matches the
// given path, in persisted order. Pattern matching is segment-wise; it runs
// in Go because the wildcard semantics live in the rule package, not in SQL.
func (s *Store) LoadRules(ctx context.Context, host, path string) ([]rule.Rule, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE host = ?
		ORDER BY seq ASC, created_at ASC`, host)
	if err != nil {
		return nil, fmt.Errorf("rulestore: load rules: %w", err)
	}
	defer rows.Close()

	var rules []rule.Rule
	for rows.Next() {
		r, _, pattern, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		if !rule.PatternMatches(pattern, path) {
			continue
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// RuleCount returns the number of rules stored for the host, across all path
// scopes.
func (s *Store) RuleCount(ctx context.Context, host string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rules WHERE host = ?`, host).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("rulestore: rule count: %w", err)
	}
	return n, nil
}

// DeleteHost removes every rule and preference stored for the host. Returns
// the number of rules deleted.
func (s *Store) DeleteHost(ctx context.Context, host string) (int64, error) {
	var deleted int64
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE host = ?`, host)
		if err != nil {
			return fmt.Errorf("rulestore: delete host rules: %w", err)
		}
		deleted, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx, `DELETE FROM site_prefs WHERE host = ?`, host); err != nil {
			return fmt.Errorf("rulestore: delete host prefs: %w", err)
		}
		return nil
	})
	return deleted, err
}

// ExportAll returns every stored rule grouped into sets by (host, path
// pattern), rules in persisted order. The output round-trips through
// ImportSets.
func (s *Store) ExportAll(ctx context.Context) ([]rule.Set, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM rules
		ORDER BY host ASC, path_pattern ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("rulestore: export: %w", err)
	}
	defer rows.Close()

	var sets []rule.Set
	for rows.Next() {
		r, host, pattern, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		if n := len(sets); n > 0 && sets[n-1].Host == host && sets[n-1].PathPattern == pattern {
			sets[n-1].Rules = append(sets[n-1].Rules, r)
			continue
		}
		sets = append(sets, rule.Set{Host: host, PathPattern: pattern, Rules: []rule.Rule{r}})
	}
	return sets, rows.Err()
}

// ImportSets merges exported rule sets into the store. Rules whose selector
// already exists in the target scope are skipped; everything else is appended
// in the order given. Returns the number of rules added.
func (s *Store) ImportSets(ctx context.Context, sets []rule.Set) (int, error) {
	added := 0
	for _, set := range sets {
		for _, r := range set.Rules {
			var exists int
			err := s.DB.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM rules
				WHERE host = ? AND path_pattern = ? AND selector = ?`,
				set.Host, set.PathPattern, r.Selector).Scan(&exists)
			if err != nil {
				return added, fmt.Errorf("rulestore: import probe: %w", err)
			}
			if exists > 0 {
				continue
			}
			if err := s.SaveRule(ctx, set.Host, set.PathPattern, r); err != nil {
				return added, err
			}
			added++
		}
	}
	return added, nil
}

// SetAlwaysApply records whether rules are applied automatically on page load
// for the host.
func (s *Store) SetAlwaysApply(ctx context.Context, host string, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO site_prefs (host, always_apply, updated_at) VALUES (?,?,?)
		ON CONFLICT (host) DO UPDATE SET
			always_apply = excluded.always_apply,
			updated_at = excluded.updated_at`,
		host, val, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("rulestore: set always_apply: %w", err)
	}
	return nil
}

// AlwaysApply reports whether rules apply automatically for the host.
// Hosts without a stored preference default to true.
func (s *Store) AlwaysApply(ctx context.Context, host string) (bool, error) {
	var val int
	err := s.DB.QueryRowContext(ctx,
		`SELECT always_apply FROM site_prefs WHERE host = ?`, host).Scan(&val)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("rulestore: always_apply: %w", err)
	}
	return val != 0, nil
}

func scanRule(rows *sql.Rows) (r rule.Rule, host, pattern string, err error) {
	var (
		id        string
		typ       string
		anchors   string
		alts      string
		styles    string
		seq       int
		createdAt int64
	)
	if err = rows.Scan(&id, &host, &pattern, &seq, &typ, &r.Selector,
		&anchors, &alts, &r.Description, &styles, &r.Amount, &createdAt); err != nil {
		return rule.Rule{}, "", "", fmt.Errorf("rulestore: scan rule: %w", err)
	}
	r.Type = rule.Type(typ)
	json.Unmarshal([]byte(anchors), &r.Anchors)
	json.Unmarshal([]byte(alts), &r.Alternatives)
	json.Unmarshal([]byte(styles), &r.StyleProps)
	return r, host, pattern, nil
}
