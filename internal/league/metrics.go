package league

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	matchesAssigned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "league_matches_assigned_total",
		Help: "Matches handed to a referee",
	})

	matchesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "league_matches_failed_total",
		Help: "Matches finalized as FAILED",
	})

	resultsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "league_results_accepted_total",
		Help: "Match results committed exactly once",
	})

	resultsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "league_results_duplicate_total",
		Help: "Result reports acknowledged as duplicates",
	})

	refereesSuspended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "league_referees_suspended_total",
		Help: "Referees suspended after failed assignment delivery",
	})
)
