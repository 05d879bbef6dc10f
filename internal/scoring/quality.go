package scoring

import (
	"strings"
	"time"

	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// TableStats is the table context quality scoring reads.
type TableStats struct {
	RowCount     int64
	LastModified time.Time
}

// StatsOf extracts TableStats from an asset.
func StatsOf(a core.Asset) TableStats {
	return TableStats{RowCount: a.RowCount, LastModified: a.LastModified}
}

const (
	qualityBase          = 50
	largeTableRows       = 1000
	minDescriptionLength = 10
	longDescription      = 50
)

// QualityScore scores a column from its constraints, documentation, naming
// and the freshness of its table. The result is in [0,100].
func QualityScore(col core.Column, stats TableStats, now time.Time, recentWindow time.Duration) int {
	score := qualityBase

	if strings.EqualFold(col.Mode, core.ModeRequired) {
		score += 10
	}
	if col.Unique {
		score += 5
	}
	if col.PrimaryKey {
		score += 15
	}

	desc := strings.TrimSpace(col.Description)
	if len(desc) >= minDescriptionLength && !strings.EqualFold(desc, col.Name) {
		score += 20
		if len(desc) > longDescription {
			score += 5
		}
	}

	if followsConvention(col) {
		score += 5
	}
	if stats.RowCount > largeTableRows {
		score += 5
	}
	if recentWindow > 0 && !stats.LastModified.IsZero() && now.Sub(stats.LastModified) <= recentWindow {
		score += 5
	}

	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

func followsConvention(col core.Column) bool {
	name := strings.ToLower(col.Name)
	family := TypeFamily(col.Type)
	switch {
	case strings.Contains(name, "email"):
		return family == FamilyString
	case strings.Contains(name, "date") || strings.HasSuffix(name, "_at") || strings.Contains(name, "timestamp"):
		return family == FamilyDate || family == FamilyTimestamp
	case name == "id" || strings.HasSuffix(name, "_id"):
		return family == FamilyInteger
	}
	return false
}
