package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/leafscan/leafnet-go/internal/analytics"
	"github.com/leafscan/leafnet-go/internal/datastore"
	"github.com/leafscan/leafnet-go/internal/diagnosis"
	"github.com/leafscan/leafnet-go/internal/errors"
)

const (
	headerOwnerID  = "X-Owner-ID"
	headerUserRole = "X-User-Role"
)

// allowedImageTypes is the upload content-type whitelist, matching the
// formats the preprocessing stage can decode.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps error categories onto HTTP status codes.
func writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.IsForbidden(err):
		status = http.StatusForbidden
	case errors.IsValidation(err), errors.IsImageDecode(err):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		getLogger().Error("request failed", "path", c.Path(), "error", err)
		return c.JSON(status, errorResponse{Error: "internal server error"})
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

// ownerID extracts and validates the caller identity header.
func ownerID(c echo.Context) (uint, error) {
	raw := c.Request().Header.Get(headerOwnerID)
	if raw == "" {
		return 0, errors.Newf("missing %s header", headerOwnerID).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, errors.Newf("invalid %s header: %s", headerOwnerID, raw).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return uint(id), nil
}

func (s *Server) handleUpload(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return writeError(c, err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return writeError(c, errors.Newf("missing file field in multipart form").
			Component("api").
			Category(errors.CategoryValidation).
			Build())
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if !allowedImageTypes[contentType] {
		return writeError(c, errors.Newf("unsupported content type %q", contentType).
			Component("api").
			Category(errors.CategoryValidation).
			Context("content_type", contentType).
			Build())
	}

	filename := filepath.Base(fileHeader.Filename)
	if filename == "." || filename == string(filepath.Separator) {
		return writeError(c, errors.Newf("invalid filename %q", fileHeader.Filename).
			Component("api").
			Category(errors.CategoryValidation).
			Build())
	}

	if err := s.saveUpload(fileHeader, filename); err != nil {
		return writeError(c, err)
	}

	if s.settings.Scheduler.DiagnoseOnUpload {
		record, err := s.diagnosis.DiagnoseOnUpload(filename, owner)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, record)
	}

	stub, err := s.diagnosis.CreateFromUpload(filename, contentType, owner)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, stub)
}

// saveUpload streams the multipart file into the upload directory.
func (s *Server) saveUpload(fileHeader *multipart.FileHeader, filename string) error {
	if err := os.MkdirAll(s.settings.Upload.Path, 0o755); err != nil {
		return errors.Wrap(err).
			Component("api").
			Category(errors.CategoryFileIO).
			Context("path", s.settings.Upload.Path).
			Build()
	}

	src, err := fileHeader.Open()
	if err != nil {
		return errors.Wrap(err).
			Component("api").
			Category(errors.CategoryFileIO).
			Context("filename", filename).
			Build()
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(s.settings.Upload.Path, filename))
	if err != nil {
		return errors.Wrap(err).
			Component("api").
			Category(errors.CategoryFileIO).
			Context("filename", filename).
			Build()
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrap(err).
			Component("api").
			Category(errors.CategoryFileIO).
			Context("filename", filename).
			Build()
	}
	return nil
}

type mobileUpsertRequest struct {
	MobileID        string    `json:"mobile_id"`
	MobileDiagnosis *string   `json:"mobile_diagnosis"`
	ManualDiagnosis *string   `json:"manual_diagnosis"`
	MobileImagePath string    `json:"mobile_image_path"`
	Remark          string    `json:"remark"`
	ConfidenceScore []float64 `json:"confidence_score"`
	ImageName       string    `json:"image_name"`
	ServerImagePath string    `json:"server_image_path"`
}

func (s *Server) handleMobileUpsert(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return writeError(c, err)
	}

	var req mobileUpsertRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, errors.Newf("invalid request body").
			Component("api").
			Category(errors.CategoryValidation).
			Build())
	}

	mobileDiagnosis, err := parseOptionalDisease(req.MobileDiagnosis)
	if err != nil {
		return writeError(c, err)
	}
	manualDiagnosis, err := parseOptionalDisease(req.ManualDiagnosis)
	if err != nil {
		return writeError(c, err)
	}

	record, err := s.diagnosis.UpsertMobile(diagnosis.MobileUpsertInput{
		MobileID:        req.MobileID,
		MobileDiagnosis: mobileDiagnosis,
		ManualDiagnosis: manualDiagnosis,
		MobileImagePath: req.MobileImagePath,
		Remark:          req.Remark,
		ConfidenceScore: req.ConfidenceScore,
		ImageName:       req.ImageName,
		ServerImagePath: req.ServerImagePath,
	}, owner)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

type manualUpdateRequest struct {
	ManualDiagnosis string  `json:"manual_diagnosis"`
	Remark          *string `json:"remark"`
}

func (s *Server) handleManualUpdate(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return writeError(c, err)
	}

	var req manualUpdateRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, errors.Newf("invalid request body").
			Component("api").
			Category(errors.CategoryValidation).
			Build())
	}

	disease, ok := datastore.ParseDiseaseType(req.ManualDiagnosis)
	if !ok {
		return writeError(c, errors.Newf("unknown diagnosis label %q", req.ManualDiagnosis).
			Component("api").
			Category(errors.CategoryValidation).
			Build())
	}

	record, err := s.diagnosis.UpdateManualDiagnosis(c.Param("serverId"), owner, disease, req.Remark)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

// handleReset re-opens the server field group for one record. Restricted to
// system administrators since it bypasses the write-once rule.
func (s *Server) handleReset(c echo.Context) error {
	if role := c.Request().Header.Get(headerUserRole); role != analytics.RoleSystemAdmin {
		return writeError(c, errors.Newf("role %q is not permitted to reset diagnoses", role).
			Component("api").
			Category(errors.CategoryForbidden).
			Build())
	}
	if err := s.diagnosis.ResetToPending(c.Param("serverId")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleList(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return writeError(c, err)
	}
	records, err := s.diagnosis.ListForOwner(owner)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) handleReport(c echo.Context) error {
	report, err := s.analytics.BuildReport(c.Request().Header.Get(headerUserRole))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleSystemReport(c echo.Context) error {
	report, err := s.analytics.SystemReport(c.Request().Header.Get(headerUserRole))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func parseOptionalDisease(label *string) (*datastore.DiseaseType, error) {
	if label == nil || strings.TrimSpace(*label) == "" {
		return nil, nil
	}
	disease, ok := datastore.ParseDiseaseType(*label)
	if !ok {
		return nil, errors.Newf("unknown diagnosis label %q", *label).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return &disease, nil
}
