// Package diagnosis owns the diagnosis-record lifecycle and the
// reconciliation rules that let the server, mobile and manual diagnosis
// sources coexist on one record.
package diagnosis

import (
	"image"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leafscan/leafnet-go/internal/conf"
	"github.com/leafscan/leafnet-go/internal/datastore"
	"github.com/leafscan/leafnet-go/internal/errors"
	"github.com/leafscan/leafnet-go/internal/leafnet"
)

// scoreSumTolerance is the allowed deviation of a submitted confidence
// vector's sum from 1.0.
const scoreSumTolerance = 0.01

// Classifier is the single-image inference dependency of the upload path.
// Implementations must serialize access to the underlying compute resource.
type Classifier interface {
	Predict(img image.Image) ([]float64, error)
}

// UploadedFile is the record stub returned to the upload collaborator.
type UploadedFile struct {
	ServerID    string `json:"server_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// MobileUpsertInput is the payload the mobile collaborator submits to create
// or update a record keyed by its mobile id.
type MobileUpsertInput struct {
	MobileID        string
	MobileDiagnosis *datastore.DiseaseType
	ManualDiagnosis *datastore.DiseaseType
	MobileImagePath string
	Remark          string
	ConfidenceScore []float64

	// Create path only: where the upload collaborator stored the image.
	ImageName       string
	ServerImagePath string
}

// Service wires the datastore and the inference engine into the
// record-lifecycle operations.
type Service struct {
	settings   *conf.Settings
	store      datastore.Interface
	classifier Classifier
}

// NewService creates the diagnosis service. classifier may be nil when no
// model is loaded; only the synchronous classify-at-upload path needs it.
func NewService(settings *conf.Settings, store datastore.Interface, classifier Classifier) *Service {
	return &Service{settings: settings, store: store, classifier: classifier}
}

// CreateFromUpload creates a record stub for a freshly uploaded image. All
// diagnosis fields start null and the record is pending until a sweep picks
// it up. Image-format validation and storage are the collaborator's job; the
// core only needs the resolvable path.
func (s *Service) CreateFromUpload(filename, contentType string, ownerID uint) (UploadedFile, error) {
	record := &datastore.Diagnosis{
		ServerID:        newServerID(),
		OwnerID:         ownerID,
		ServerImagePath: filepath.Join(s.settings.Upload.Path, filename),
		ImageName:       filename,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.Save(record); err != nil {
		return UploadedFile{}, err
	}
	return UploadedFile{
		ServerID:    record.ServerID,
		Filename:    filename,
		ContentType: contentType,
	}, nil
}

// DiagnoseOnUpload classifies an uploaded image synchronously and creates
// the record already server-diagnosed, the same decode path the sweep uses.
func (s *Service) DiagnoseOnUpload(filename string, ownerID uint) (datastore.Diagnosis, error) {
	if s.classifier == nil {
		return datastore.Diagnosis{}, errors.Newf("no classification model loaded").
			Component("diagnosis").
			Category(errors.CategoryState).
			Build()
	}

	imagePath := filepath.Join(s.settings.Upload.Path, filename)
	img, err := leafnet.LoadImage(imagePath)
	if err != nil {
		return datastore.Diagnosis{}, err
	}

	probs, err := s.classifier.Predict(img)
	if err != nil {
		return datastore.Diagnosis{}, err
	}
	decoded, err := leafnet.DecodeDiagnosis(probs)
	if err != nil {
		return datastore.Diagnosis{}, err
	}

	record := &datastore.Diagnosis{
		ServerID:              newServerID(),
		OwnerID:               ownerID,
		ServerImagePath:       imagePath,
		ImageName:             filename,
		ServerDiagnosis:       &decoded,
		ServerConfidenceScore: probs,
		IsServerDiagnosed:     true,
		CreatedAt:             time.Now().UTC(),
	}
	if err := s.store.Save(record); err != nil {
		return datastore.Diagnosis{}, err
	}
	return *record, nil
}

// UpsertMobile creates a record from the mobile pipeline or replaces the
// mobile field group wholesale on the record matched by mobile id, last
// write wins. A manual diagnosis riding along is applied as its own group
// update; the two groups are disjoint and each update is individually
// atomic.
func (s *Service) UpsertMobile(input MobileUpsertInput, ownerID uint) (datastore.Diagnosis, error) {
	if err := s.validateInput(input); err != nil {
		return datastore.Diagnosis{}, err
	}

	existing, err := s.store.GetByMobileID(input.MobileID)
	switch {
	case err == nil:
		return s.replaceMobileGroup(existing, input)
	case errors.IsNotFound(err):
		return s.createFromMobile(input, ownerID)
	default:
		return datastore.Diagnosis{}, err
	}
}

func (s *Service) createFromMobile(input MobileUpsertInput, ownerID uint) (datastore.Diagnosis, error) {
	mobileID := input.MobileID
	record := &datastore.Diagnosis{
		ServerID:              newServerID(),
		MobileID:              &mobileID,
		OwnerID:               ownerID,
		ServerImagePath:       input.ServerImagePath,
		ImageName:             input.ImageName,
		MobileDiagnosis:       input.MobileDiagnosis,
		ManualDiagnosis:       input.ManualDiagnosis,
		MobileConfidenceScore: input.ConfidenceScore,
		MobileImagePath:       input.MobileImagePath,
		Remark:                input.Remark,
		CreatedAt:             time.Now().UTC(),
	}
	if err := s.store.Save(record); err != nil {
		return datastore.Diagnosis{}, err
	}
	return *record, nil
}

func (s *Service) replaceMobileGroup(existing datastore.Diagnosis, input MobileUpsertInput) (datastore.Diagnosis, error) {
	updated, err := s.store.UpdateMobileGroup(input.MobileID, datastore.MobileGroup{
		Diagnosis:       input.MobileDiagnosis,
		ConfidenceScore: input.ConfidenceScore,
		ImagePath:       input.MobileImagePath,
		Remark:          input.Remark,
	})
	if err != nil {
		return datastore.Diagnosis{}, err
	}

	if input.ManualDiagnosis != nil {
		updated, err = s.store.UpdateManualGroup(existing.ServerID, *input.ManualDiagnosis, nil)
		if err != nil {
			return datastore.Diagnosis{}, err
		}
	}
	return updated, nil
}

// UpdateManualDiagnosis sets the reviewer's ground-truth label on a record.
// The manual diagnosis may be overwritten at any time, independent of the
// server and mobile groups.
func (s *Service) UpdateManualDiagnosis(serverID string, ownerID uint, manualDiagnosis datastore.DiseaseType, remark *string) (datastore.Diagnosis, error) {
	record, err := s.store.GetByServerID(serverID)
	if err != nil {
		return datastore.Diagnosis{}, err
	}
	if record.OwnerID != ownerID {
		return datastore.Diagnosis{}, errors.Newf("diagnosis record %s not found", serverID).
			Component("diagnosis").
			Category(errors.CategoryNotFound).
			Context("server_id", serverID).
			Build()
	}
	return s.store.UpdateManualGroup(serverID, manualDiagnosis, remark)
}

// ListForOwner returns all of an owner's records in creation order.
func (s *Service) ListForOwner(ownerID uint) ([]datastore.Diagnosis, error) {
	return s.store.GetAllForOwner(ownerID)
}

// ResetToPending clears a record's server field group so the next sweep
// re-diagnoses it. Deliberate extension of the write-once rule; nothing else
// re-opens the server group.
func (s *Service) ResetToPending(serverID string) error {
	return s.store.ResetServerDiagnosis(serverID)
}

func (s *Service) validateInput(input MobileUpsertInput) error {
	if strings.TrimSpace(input.MobileID) == "" {
		return errors.Newf("mobile id is required").
			Component("diagnosis").
			Category(errors.CategoryValidation).
			Build()
	}
	return ValidateConfidenceScore(input.ConfidenceScore)
}

// ValidateConfidenceScore checks a submitted probability vector: length must
// equal the class count of the inference source, values must be
// non-negative, and the sum must be approximately 1.0. An absent vector is
// valid.
func ValidateConfidenceScore(score []float64) error {
	if score == nil {
		return nil
	}
	if len(score) != leafnet.ClassCount {
		return errors.Newf("confidence score has %d entries, expected %d", len(score), leafnet.ClassCount).
			Component("diagnosis").
			Category(errors.CategoryValidation).
			Context("length", len(score)).
			Build()
	}
	var sum float64
	for i, v := range score {
		if v < 0 {
			return errors.Newf("confidence score entry %d is negative", i).
				Component("diagnosis").
				Category(errors.CategoryValidation).
				Build()
		}
		sum += v
	}
	if math.Abs(sum-1.0) > scoreSumTolerance {
		return errors.Newf("confidence score sums to %f, expected 1.0", sum).
			Component("diagnosis").
			Category(errors.CategoryValidation).
			Context("sum", sum).
			Build()
	}
	return nil
}

// newServerID assigns the opaque unique identifier used as the primary
// correlation key for server-side operations.
func newServerID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
