package strategy

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"sensextrader/internal/logs"
)

// PickFromLeaderboard reads a leaderboard CSV of "strategy,score" rows and
// returns the highest-scoring strategy name among the known ones. The
// research pipeline regenerates the file out of process; at startup we only
// consume its verdict. Falls back to fallback when the file is missing or
// holds no usable row.
func PickFromLeaderboard(path, fallback string, known []string) string {
	f, err := os.Open(path)
	if err != nil {
		logs.Warnf("leaderboard %s unavailable, using strategy %q: %v", path, fallback, err)
		return fallback
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		logs.Warnf("leaderboard %s unreadable, using strategy %q: %v", path, fallback, err)
		return fallback
	}

	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}

	best := fallback
	bestScore := 0.0
	found := false
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		name := strings.TrimSpace(row[0])
		score, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			if i == 0 {
				continue // header row
			}
			logs.Debugf("leaderboard row %d: bad score %q", i, row[1])
			continue
		}
		if !knownSet[name] {
			continue
		}
		if !found || score > bestScore {
			best, bestScore, found = name, score, true
		}
	}
	if found {
		logs.Infof("leaderboard picked strategy %q (score %.3f)", best, bestScore)
	}
	return best
}

// Known lists the strategy names New can build.
func Known() []string { return []string{"price-change", "rules"} }
