package diagnosis

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafscan/leafnet-go/internal/conf"
	"github.com/leafscan/leafnet-go/internal/datastore"
	"github.com/leafscan/leafnet-go/internal/errors"
)

type fixedClassifier struct {
	probs []float64
	err   error
}

func (f *fixedClassifier) Predict(_ image.Image) ([]float64, error) {
	return f.probs, f.err
}

func newTestService(t *testing.T) (*Service, *datastore.SQLiteStore) {
	t.Helper()
	settings := &conf.Settings{}
	settings.Upload.Path = t.TempDir()
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "diagnosis-test.db")

	store := &datastore.SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	return NewService(settings, store, nil), store
}

func diseasePtr(dt datastore.DiseaseType) *datastore.DiseaseType { return &dt }

func TestCreateFromUpload(t *testing.T) {
	svc, store := newTestService(t)

	stub, err := svc.CreateFromUpload("leaf.jpg", "image/jpeg", 7)
	require.NoError(t, err)
	assert.NotEmpty(t, stub.ServerID)
	assert.Equal(t, "leaf.jpg", stub.Filename)
	assert.Equal(t, "image/jpeg", stub.ContentType)

	record, err := store.GetByServerID(stub.ServerID)
	require.NoError(t, err)
	assert.False(t, record.IsServerDiagnosed)
	assert.Nil(t, record.ServerDiagnosis)
	assert.Nil(t, record.MobileDiagnosis)
	assert.Nil(t, record.ManualDiagnosis)
	assert.Equal(t, uint(7), record.OwnerID)
}

func TestDiagnoseOnUpload(t *testing.T) {
	t.Run("classifies synchronously and stores the record diagnosed", func(t *testing.T) {
		svc, store := newTestService(t)
		svc.classifier = &fixedClassifier{probs: []float64{0.05, 0.05, 0.8, 0.05, 0.05}}

		f, err := os.Create(filepath.Join(svc.settings.Upload.Path, "leaf.png"))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 8, 8))))
		require.NoError(t, f.Close())

		record, err := svc.DiagnoseOnUpload("leaf.png", 4)
		require.NoError(t, err)
		assert.True(t, record.IsServerDiagnosed)
		require.NotNil(t, record.ServerDiagnosis)
		assert.Equal(t, datastore.DiseaseSeptoria, *record.ServerDiagnosis)
		assert.Equal(t, uint(4), record.OwnerID)

		got, err := store.GetByServerID(record.ServerID)
		require.NoError(t, err)
		assert.True(t, got.IsServerDiagnosed)
	})

	t.Run("fails without a loaded model", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.DiagnoseOnUpload("leaf.png", 4)
		assert.Error(t, err)
	})
}

func TestUpsertMobile(t *testing.T) {
	t.Run("creates record on unknown mobile id", func(t *testing.T) {
		svc, _ := newTestService(t)

		record, err := svc.UpsertMobile(MobileUpsertInput{
			MobileID:        "mob1",
			MobileDiagnosis: diseasePtr(datastore.DiseaseMildew),
			MobileImagePath: "/sdcard/leaf.jpg",
			ConfidenceScore: []float64{0.05, 0.05, 0.05, 0.05, 0.8},
			ImageName:       "leaf.jpg",
			ServerImagePath: "uploads/leaf.jpg",
		}, 3)
		require.NoError(t, err)
		assert.NotEmpty(t, record.ServerID)
		require.NotNil(t, record.MobileID)
		assert.Equal(t, "mob1", *record.MobileID)
		assert.Equal(t, datastore.DiseaseMildew, *record.MobileDiagnosis)
		assert.False(t, record.IsServerDiagnosed)
	})

	t.Run("replaces mobile group on existing mobile id", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.UpsertMobile(MobileUpsertInput{
			MobileID:        "mob1",
			MobileDiagnosis: diseasePtr(datastore.DiseaseMildew),
			MobileImagePath: "/sdcard/a.jpg",
			ImageName:       "a.jpg",
			ServerImagePath: "uploads/a.jpg",
		}, 3)
		require.NoError(t, err)

		updated, err := svc.UpsertMobile(MobileUpsertInput{
			MobileID:        "mob1",
			MobileDiagnosis: diseasePtr(datastore.DiseaseSeptoria),
			MobileImagePath: "/sdcard/b.jpg",
		}, 3)
		require.NoError(t, err)
		assert.Equal(t, datastore.DiseaseSeptoria, *updated.MobileDiagnosis)
		assert.Equal(t, "/sdcard/b.jpg", updated.MobileImagePath)
		// Create-path fields outside the mobile group stay put.
		assert.Equal(t, "a.jpg", updated.ImageName)
	})

	t.Run("manual diagnosis riding along is applied as its own group", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.UpsertMobile(MobileUpsertInput{
			MobileID:        "mob1",
			MobileDiagnosis: diseasePtr(datastore.DiseaseMildew),
			ImageName:       "a.jpg",
			ServerImagePath: "uploads/a.jpg",
		}, 3)
		require.NoError(t, err)

		updated, err := svc.UpsertMobile(MobileUpsertInput{
			MobileID:        "mob1",
			MobileDiagnosis: diseasePtr(datastore.DiseaseMildew),
			ManualDiagnosis: diseasePtr(datastore.DiseaseHealthy),
		}, 3)
		require.NoError(t, err)
		require.NotNil(t, updated.ManualDiagnosis)
		assert.Equal(t, datastore.DiseaseHealthy, *updated.ManualDiagnosis)
		assert.Equal(t, datastore.DiseaseMildew, *updated.MobileDiagnosis)
	})

	t.Run("rejects malformed confidence vector", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.UpsertMobile(MobileUpsertInput{
			MobileID:        "mob1",
			ConfidenceScore: []float64{0.5, 0.5},
		}, 3)
		assert.True(t, errors.IsValidation(err))

		_, err = svc.UpsertMobile(MobileUpsertInput{
			MobileID:        "mob1",
			ConfidenceScore: []float64{0.9, 0.9, 0.9, 0.9, 0.9},
		}, 3)
		assert.True(t, errors.IsValidation(err))

		_, err = svc.UpsertMobile(MobileUpsertInput{MobileID: "  "}, 3)
		assert.True(t, errors.IsValidation(err))
	})
}

func TestUpdateManualDiagnosis(t *testing.T) {
	t.Run("does not alter mobile or server groups", func(t *testing.T) {
		svc, store := newTestService(t)

		created, err := svc.UpsertMobile(MobileUpsertInput{
			MobileID:        "mob1",
			MobileDiagnosis: diseasePtr(datastore.DiseaseYellowRust),
			ImageName:       "a.jpg",
			ServerImagePath: "uploads/a.jpg",
		}, 3)
		require.NoError(t, err)
		require.NoError(t, store.CommitServerDiagnosis(created.ServerID, datastore.DiseaseBrownRust, []float64{1, 0, 0, 0, 0}))

		updated, err := svc.UpdateManualDiagnosis(created.ServerID, 3, datastore.DiseaseOther, nil)
		require.NoError(t, err)
		assert.Equal(t, datastore.DiseaseOther, *updated.ManualDiagnosis)
		assert.Equal(t, datastore.DiseaseYellowRust, *updated.MobileDiagnosis)
		assert.Equal(t, datastore.DiseaseBrownRust, *updated.ServerDiagnosis)
	})

	t.Run("unknown record fails NotFound", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.UpdateManualDiagnosis("ghost", 3, datastore.DiseaseHealthy, nil)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("record of another owner is NotFound", func(t *testing.T) {
		svc, _ := newTestService(t)
		stub, err := svc.CreateFromUpload("leaf.jpg", "image/jpeg", 1)
		require.NoError(t, err)

		_, err = svc.UpdateManualDiagnosis(stub.ServerID, 2, datastore.DiseaseHealthy, nil)
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestResetToPending(t *testing.T) {
	svc, store := newTestService(t)
	stub, err := svc.CreateFromUpload("leaf.jpg", "image/jpeg", 1)
	require.NoError(t, err)
	require.NoError(t, store.CommitServerDiagnosis(stub.ServerID, datastore.DiseaseHealthy, []float64{0, 0, 0, 1, 0}))

	require.NoError(t, svc.ResetToPending(stub.ServerID))
	record, err := store.GetByServerID(stub.ServerID)
	require.NoError(t, err)
	assert.False(t, record.IsServerDiagnosed)
	assert.Nil(t, record.ServerDiagnosis)
}

func TestValidateConfidenceScore(t *testing.T) {
	assert.NoError(t, ValidateConfidenceScore(nil))
	assert.NoError(t, ValidateConfidenceScore([]float64{0.2, 0.2, 0.2, 0.2, 0.2}))
	assert.Error(t, ValidateConfidenceScore([]float64{0.2, 0.2, 0.2, 0.2}))
	assert.Error(t, ValidateConfidenceScore([]float64{-0.1, 0.3, 0.3, 0.3, 0.2}))
	assert.Error(t, ValidateConfidenceScore([]float64{0.3, 0.3, 0.3, 0.3, 0.3}))
}
