package store

import (
	"fmt"
)

// Per-row weight approximations for the total-size budget.
const (
	weightEpisode    = 4
	weightFact       = 2
	weightCausalLink = 2
	weightProcedure  = 3
)

// PruneReport summarizes what EnforceLimits removed.
type PruneReport struct {
	EpisodesPruned    int `json:"episodesPruned"`
	FactsPruned       int `json:"factsPruned"`
	CausalLinksPruned int `json:"causalLinksPruned"`
	ProceduresPruned  int `json:"proceduresPruned"`
}

// Total is the number of memories removed across all categories.
func (r PruneReport) Total() int {
	return r.EpisodesPruned + r.FactsPruned + r.CausalLinksPruned + r.ProceduresPruned
}

// OverLimit reports whether any category cap or the total weight budget
// is exceeded.
func (s *Store) OverLimit(limits Limits) (bool, error) {
	stats, err := s.GetStats()
	if err != nil {
		return false, err
	}
	if stats.Episodes > limits.MaxEpisodes ||
		stats.TotalFacts > limits.MaxFacts ||
		stats.CausalLinks > limits.MaxCausalLinks ||
		stats.Procedures > limits.MaxProcedures {
		return true, nil
	}
	weight := stats.Episodes*weightEpisode + stats.TotalFacts*weightFact +
		stats.CausalLinks*weightCausalLink + stats.Procedures*weightProcedure
	return weight > limits.MaxTotalWeight, nil
}

// EnforceLimits prunes each over-cap category in its priority order:
// episodes by ascending utility then timestamp; facts inactive first,
// then ascending confidence, then creation time, never touching
// user-affirmed facts; causal links by ascending confidence; procedures
// by ascending success rate then usage.
func (s *Store) EnforceLimits(limits Limits) (PruneReport, error) {
	var report PruneReport

	stats, err := s.GetStats()
	if err != nil {
		return report, err
	}

	if excess := stats.Episodes - limits.MaxEpisodes; excess > 0 {
		n, err := s.pruneEpisodes(excess)
		if err != nil {
			return report, err
		}
		report.EpisodesPruned = n
	}
	if excess := stats.TotalFacts - limits.MaxFacts; excess > 0 {
		n, err := s.pruneFacts(excess)
		if err != nil {
			return report, err
		}
		report.FactsPruned = n
	}
	if excess := stats.CausalLinks - limits.MaxCausalLinks; excess > 0 {
		n, err := s.pruneCausalLinks(excess)
		if err != nil {
			return report, err
		}
		report.CausalLinksPruned = n
	}
	if excess := stats.Procedures - limits.MaxProcedures; excess > 0 {
		n, err := s.pruneProcedures(excess)
		if err != nil {
			return report, err
		}
		report.ProceduresPruned = n
	}
	return report, nil
}

func (s *Store) pruneEpisodes(n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return 0, err
	}

	res, err := s.db.Exec(`
		DELETE FROM episodes WHERE id IN (
			SELECT id FROM episodes
			ORDER BY utility_score ASC, ts ASC LIMIT ?
		)
	`, n)
	if err != nil {
		return 0, s.checkFatal(fmt.Errorf("store: prune episodes: %w", err))
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// pruneFacts hard-deletes the lowest-value fact rows. User-affirmed
// facts are never pruned, even over budget.
func (s *Store) pruneFacts(n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return 0, err
	}

	res, err := s.db.Exec(`
		DELETE FROM facts WHERE id IN (
			SELECT id FROM facts
			WHERE user_affirmed = 0
			ORDER BY is_active ASC, confidence ASC, created_at ASC LIMIT ?
		)
	`, n)
	if err != nil {
		return 0, s.checkFatal(fmt.Errorf("store: prune facts: %w", err))
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		s.notifyFactWrite()
	}
	return int(affected), nil
}

func (s *Store) pruneCausalLinks(n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return 0, err
	}

	res, err := s.db.Exec(`
		DELETE FROM causal_links WHERE id IN (
			SELECT id FROM causal_links ORDER BY confidence ASC LIMIT ?
		)
	`, n)
	if err != nil {
		return 0, s.checkFatal(fmt.Errorf("store: prune causal links: %w", err))
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *Store) pruneProcedures(n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return 0, err
	}

	res, err := s.db.Exec(`
		DELETE FROM procedures WHERE id IN (
			SELECT id FROM procedures
			ORDER BY (CAST(times_succeeded AS REAL) / MAX(1, times_used)) ASC,
				times_used ASC
			LIMIT ?
		)
	`, n)
	if err != nil {
		return 0, s.checkFatal(fmt.Errorf("store: prune procedures: %w", err))
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}
