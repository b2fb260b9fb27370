// model.go this code defines the data model for the application
package datastore

import (
	"time"

	"gorm.io/datatypes"
)

// DiseaseType is the fixed classification label set shared by the server,
// mobile and manual diagnosis sources.
type DiseaseType string

const (
	DiseaseBrownRust  DiseaseType = "Brown Rust"
	DiseaseYellowRust DiseaseType = "Yellow Rust"
	DiseaseSeptoria   DiseaseType = "Septoria"
	DiseaseHealthy    DiseaseType = "Healthy"
	DiseaseMildew     DiseaseType = "Mildew"
	DiseaseOther      DiseaseType = "Other"
)

// AllDiseaseTypes returns the full label set in its fixed order. This
// ordering is a load-bearing contract: the confusion matrix is indexed by it
// and the model decode table uses its first five entries. It is versioned
// together with the model artifact.
func AllDiseaseTypes() []DiseaseType {
	return []DiseaseType{
		DiseaseBrownRust,
		DiseaseYellowRust,
		DiseaseSeptoria,
		DiseaseHealthy,
		DiseaseMildew,
		DiseaseOther,
	}
}

// ParseDiseaseType maps a label string to its DiseaseType. The second return
// value is false for unknown labels.
func ParseDiseaseType(label string) (DiseaseType, bool) {
	for _, dt := range AllDiseaseTypes() {
		if string(dt) == label {
			return dt, true
		}
	}
	return "", false
}

// Diagnosis represents one diagnosis record per uploaded leaf image. The
// three diagnosis sources live in disjoint field groups on the same row:
// the server group (ServerDiagnosis, ServerConfidenceScore,
// IsServerDiagnosed) written once by the batch pipeline, the mobile group
// (MobileDiagnosis, MobileConfidenceScore, MobileImagePath) replaced
// wholesale by the mobile client, and the manual group (ManualDiagnosis,
// Remark) owned by the reviewer.
type Diagnosis struct {
	ID       uint    `gorm:"primaryKey"`
	ServerID string  `gorm:"uniqueIndex;not null"`
	MobileID *string `gorm:"uniqueIndex"`
	OwnerID  uint    `gorm:"index;not null"`

	ServerDiagnosis *DiseaseType `gorm:"type:varchar(20)"`
	MobileDiagnosis *DiseaseType `gorm:"type:varchar(20)"`
	ManualDiagnosis *DiseaseType `gorm:"type:varchar(20)"`

	ServerConfidenceScore datatypes.JSONSlice[float64]
	MobileConfidenceScore datatypes.JSONSlice[float64]

	ServerImagePath string `gorm:"not null"`
	MobileImagePath string
	ImageName       string `gorm:"not null"`

	IsServerDiagnosed bool `gorm:"index;not null;default:false"`

	Remark    string
	CreatedAt time.Time `gorm:"index;not null"`
}

// AgreementPair is one qualifying record for the agreement analytics: both
// the manual ground truth and the automated server diagnosis are present.
type AgreementPair struct {
	Manual DiseaseType
	Server DiseaseType
}
