package repository

import "github.com/kjannette/stockviewer-backend/internal/models"

type ImportPlan struct {
	Insert  []models.StockRecord
	Summary models.ImportSummary
}

// PlanImport decides which candidates a bulk import inserts. A key that is
// already stored is skipped; a key repeated within the batch keeps its first
// occurrence. Input order is preserved.
func PlanImport(recs []models.StockRecord, existing map[models.RecordKey]bool) ImportPlan {
	plan := ImportPlan{Summary: models.ImportSummary{Total: len(recs)}}
	seen := make(map[models.RecordKey]bool, len(recs))

	for _, rec := range recs {
		key := normalizeKey(rec.Key())
		switch {
		case existing[key]:
			plan.Summary.Skipped++
		case seen[key]:
			plan.Summary.Duplicates++
		default:
			seen[key] = true
			plan.Insert = append(plan.Insert, rec)
		}
	}
	plan.Summary.Inserted = len(plan.Insert)
	return plan
}
