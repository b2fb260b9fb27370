// internal/datastore/analytics.go
package datastore

import (
	"gorm.io/datatypes"

	"github.com/leafscan/leafnet-go/internal/errors"
)

// GetAgreementPairs returns the (manual, server) diagnosis pairs for every
// record where both are set. This is the qualifying set for the agreement
// analytics; records missing either source are excluded at query time.
func (ds *DataStore) GetAgreementPairs() ([]AgreementPair, error) {
	var rows []struct {
		ManualDiagnosis DiseaseType
		ServerDiagnosis DiseaseType
	}
	err := ds.DB.Model(&Diagnosis{}).
		Select("manual_diagnosis, server_diagnosis").
		Where("manual_diagnosis IS NOT NULL AND server_diagnosis IS NOT NULL").
		Order("created_at ASC, id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	pairs := make([]AgreementPair, 0, len(rows))
	for _, row := range rows {
		pairs = append(pairs, AgreementPair{Manual: row.ManualDiagnosis, Server: row.ServerDiagnosis})
	}
	return pairs, nil
}

// TableRowCounts returns per-table row counts for the system report.
func (ds *DataStore) TableRowCounts() (map[string]int64, error) {
	tables, err := ds.DB.Migrator().GetTables()
	if err != nil {
		return nil, errors.Wrap(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		var count int64
		if err := ds.DB.Table(table).Count(&count).Error; err != nil {
			return nil, errors.Wrap(err).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("table", table).
				Build()
		}
		counts[table] = count
	}
	return counts, nil
}

// toJSONSlice converts a raw probability vector to its JSON column value.
// A nil or empty vector maps to NULL so the set/cleared invariant on the
// server group holds at the column level.
func toJSONSlice(score []float64) any {
	if len(score) == 0 {
		return nil
	}
	return datatypes.NewJSONSlice(score)
}
