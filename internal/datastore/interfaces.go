// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	stderrors "errors"

	"gorm.io/gorm"

	"github.com/leafscan/leafnet-go/internal/conf"
	"github.com/leafscan/leafnet-go/internal/errors"
)

// Interface abstracts the underlying database implementation and defines the
// operations the diagnosis pipeline needs.
type Interface interface {
	Open() error
	Close() error

	Save(diagnosis *Diagnosis) error
	GetByServerID(serverID string) (Diagnosis, error)
	GetByMobileID(mobileID string) (Diagnosis, error)
	GetAllForOwner(ownerID uint) ([]Diagnosis, error)
	GetPending() ([]Diagnosis, error)

	CommitServerDiagnosis(serverID string, diagnosis DiseaseType, score []float64) error
	ResetServerDiagnosis(serverID string) error
	UpdateMobileGroup(mobileID string, group MobileGroup) (Diagnosis, error)
	UpdateManualGroup(serverID string, diagnosis DiseaseType, remark *string) (Diagnosis, error)

	GetAgreementPairs() ([]AgreementPair, error)
	TableRowCounts() (map[string]int64, error)
}

// MobileGroup is the mobile-origin field group. An update replaces the whole
// group on the matched record, last write wins.
type MobileGroup struct {
	Diagnosis       *DiseaseType
	ConfidenceScore []float64
	ImagePath       string
	Remark          string
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the configured backend.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// Save stores a new diagnosis record in its own transaction.
func (ds *DataStore) Save(diagnosis *Diagnosis) error {
	if err := ds.DB.Create(diagnosis).Error; err != nil {
		return errors.Wrap(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("server_id", diagnosis.ServerID).
			Build()
	}
	return nil
}

// GetByServerID retrieves a diagnosis record by its server-assigned id.
func (ds *DataStore) GetByServerID(serverID string) (Diagnosis, error) {
	var diagnosis Diagnosis
	err := ds.DB.Where("server_id = ?", serverID).First(&diagnosis).Error
	if err != nil {
		return Diagnosis{}, ds.notFoundOr(err, "server_id", serverID)
	}
	return diagnosis, nil
}

// GetByMobileID retrieves a diagnosis record by the id assigned by the
// originating mobile client.
func (ds *DataStore) GetByMobileID(mobileID string) (Diagnosis, error) {
	var diagnosis Diagnosis
	err := ds.DB.Where("mobile_id = ?", mobileID).First(&diagnosis).Error
	if err != nil {
		return Diagnosis{}, ds.notFoundOr(err, "mobile_id", mobileID)
	}
	return diagnosis, nil
}

// GetAllForOwner returns all diagnosis records for an owner in creation order.
func (ds *DataStore) GetAllForOwner(ownerID uint) ([]Diagnosis, error) {
	var diagnoses []Diagnosis
	err := ds.DB.Where("owner_id = ?", ownerID).
		Order("created_at ASC, id ASC").
		Find(&diagnoses).Error
	if err != nil {
		return nil, errors.Wrap(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("owner_id", ownerID).
			Build()
	}
	return diagnoses, nil
}

// GetPending returns all records still awaiting a server diagnosis in a
// stable order, ascending creation time, so repeated sweeps make forward
// progress after a partial failure.
func (ds *DataStore) GetPending() ([]Diagnosis, error) {
	var diagnoses []Diagnosis
	err := ds.DB.Where("is_server_diagnosed = ?", false).
		Order("created_at ASC, id ASC").
		Find(&diagnoses).Error
	if err != nil {
		return nil, errors.Wrap(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return diagnoses, nil
}

// CommitServerDiagnosis sets the server field group on one record in a
// single transaction. ServerDiagnosis and ServerConfidenceScore are set
// together with the IsServerDiagnosed flag, never one without the others.
// The server group is write-once: a record already diagnosed is refused
// until it is explicitly reset to pending.
func (ds *DataStore) CommitServerDiagnosis(serverID string, diagnosis DiseaseType, score []float64) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Diagnosis{}).
			Where("server_id = ? AND is_server_diagnosed = ?", serverID, false).
			Updates(map[string]any{
				"server_diagnosis":        diagnosis,
				"server_confidence_score": toJSONSlice(score),
				"is_server_diagnosed":     true,
			})
		if result.Error != nil {
			return errors.Wrap(result.Error).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("server_id", serverID).
				Build()
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&Diagnosis{}).Where("server_id = ?", serverID).Count(&count).Error; err != nil {
				return errors.Wrap(err).
					Component("datastore").
					Category(errors.CategoryDatabase).
					Build()
			}
			if count == 0 {
				return errors.Newf("diagnosis record %s not found", serverID).
					Component("datastore").
					Category(errors.CategoryNotFound).
					Build()
			}
			return errors.Newf("diagnosis record %s already server-diagnosed", serverID).
				Component("datastore").
				Category(errors.CategoryState).
				Context("server_id", serverID).
				Build()
		}
		return nil
	})
}

// ResetServerDiagnosis clears the server field group atomically, returning
// the record to pending so the next sweep re-diagnoses it. This is the only
// path that re-opens the write-once server group.
func (ds *DataStore) ResetServerDiagnosis(serverID string) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Diagnosis{}).
			Where("server_id = ?", serverID).
			Updates(map[string]any{
				"server_diagnosis":        nil,
				"server_confidence_score": nil,
				"is_server_diagnosed":     false,
			})
		if result.Error != nil {
			return errors.Wrap(result.Error).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("server_id", serverID).
				Build()
		}
		if result.RowsAffected == 0 {
			return errors.Newf("diagnosis record %s not found", serverID).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil
	})
}

// UpdateMobileGroup replaces the mobile field group wholesale on the record
// matched by mobileID. Fields outside the group are untouched.
func (ds *DataStore) UpdateMobileGroup(mobileID string, group MobileGroup) (Diagnosis, error) {
	var updated Diagnosis
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Diagnosis{}).
			Where("mobile_id = ?", mobileID).
			Updates(map[string]any{
				"mobile_diagnosis":        group.Diagnosis,
				"mobile_confidence_score": toJSONSlice(group.ConfidenceScore),
				"mobile_image_path":       group.ImagePath,
				"remark":                  group.Remark,
			})
		if result.Error != nil {
			return errors.Wrap(result.Error).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("mobile_id", mobileID).
				Build()
		}
		if result.RowsAffected == 0 {
			return errors.Newf("diagnosis record with mobile id %s not found", mobileID).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return tx.Where("mobile_id = ?", mobileID).First(&updated).Error
	})
	if err != nil {
		return Diagnosis{}, err
	}
	return updated, nil
}

// UpdateManualGroup sets the reviewer field group on the record matched by
// serverID. The manual diagnosis is the designated ground truth and may be
// overwritten at any time.
func (ds *DataStore) UpdateManualGroup(serverID string, diagnosis DiseaseType, remark *string) (Diagnosis, error) {
	var updated Diagnosis
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		fields := map[string]any{"manual_diagnosis": diagnosis}
		if remark != nil {
			fields["remark"] = *remark
		}
		result := tx.Model(&Diagnosis{}).
			Where("server_id = ?", serverID).
			Updates(fields)
		if result.Error != nil {
			return errors.Wrap(result.Error).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("server_id", serverID).
				Build()
		}
		if result.RowsAffected == 0 {
			return errors.Newf("diagnosis record %s not found", serverID).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return tx.Where("server_id = ?", serverID).First(&updated).Error
	})
	if err != nil {
		return Diagnosis{}, err
	}
	return updated, nil
}

// notFoundOr maps gorm.ErrRecordNotFound to a NotFound error and wraps
// everything else as a database error.
func (ds *DataStore) notFoundOr(err error, key, value string) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Newf("diagnosis record with %s %s not found", key, value).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Context(key, value).
			Build()
	}
	return errors.Wrap(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context(key, value).
		Build()
}
