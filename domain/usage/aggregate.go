package usage

import "sort"

// Sum returns the total amount of records matching tenant, feature and period.
// This is a PURE function.
func Sum(records []Record, tenantID, feature, periodDate string) int64 {
	var total int64
	for _, r := range records {
		if r.TenantID == tenantID && r.FeatureSlug == feature && r.PeriodDate == periodDate {
			total += r.Amount
		}
	}
	return total
}

// Summarize groups records by tenant, feature and period.
// Results are ordered by tenant, feature, then period date.
// This is a PURE function.
func Summarize(records []Record) []Summary {
	type groupKey struct {
		tenant, feature, date string
	}

	groups := make(map[groupKey]*Summary)
	for _, r := range records {
		k := groupKey{r.TenantID, r.FeatureSlug, r.PeriodDate}
		s, ok := groups[k]
		if !ok {
			s = &Summary{
				TenantID:    r.TenantID,
				FeatureSlug: r.FeatureSlug,
				PeriodKind:  r.PeriodKind,
				PeriodDate:  r.PeriodDate,
			}
			groups[k] = s
		}
		s.Total += r.Amount
		s.Records++
	}

	result := make([]Summary, 0, len(groups))
	for _, s := range groups {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.TenantID != b.TenantID {
			return a.TenantID < b.TenantID
		}
		if a.FeatureSlug != b.FeatureSlug {
			return a.FeatureSlug < b.FeatureSlug
		}
		return a.PeriodDate < b.PeriodDate
	})
	return result
}
