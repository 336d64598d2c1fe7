package peerstore

import "context"

// TypeCount is one row of Stats' breakdown by address type.
type TypeCount struct {
	Type  AddrType
	Count int64
}

// Stats summarizes the store's current contents for the operator CLI. It
// is not part of the Store interface — it's an operator-facing query, not
// something the crawl's hot path needs.
type Stats struct {
	Total      int64
	Reachable  int64
	ByType     []TypeCount
}

// Stats computes a snapshot of the peer table's contents.
func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	var s Stats

	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM peers`).Scan(&s.Total); err != nil {
		return Stats{}, err
	}

	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM peers WHERE incoming = true`).Scan(&s.Reachable); err != nil {
		return Stats{}, err
	}

	rows, err := p.pool.Query(ctx, `SELECT type, count(*) FROM peers GROUP BY type ORDER BY type`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return Stats{}, err
		}
		s.ByType = append(s.ByType, tc)
	}

	return s, rows.Err()
}
