// Package analytics builds agreement reports comparing reviewer ground
// truth against the automated server diagnosis, plus a system health
// report. Both are restricted to system administrators.
package analytics

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/leafscan/leafnet-go/internal/conf"
	"github.com/leafscan/leafnet-go/internal/datastore"
	"github.com/leafscan/leafnet-go/internal/errors"
	"github.com/leafscan/leafnet-go/internal/logging"
)

// RoleSystemAdmin is the only role allowed to read analytics.
const RoleSystemAdmin = "System Admin"

const reportCacheKey = "agreement-report"

var (
	logger     *slog.Logger
	loggerOnce sync.Once
)

func getLogger() *slog.Logger {
	loggerOnce.Do(func() {
		logger = logging.ForService("analytics")
	})
	return logger
}

// Report is the agreement report between manual and server diagnoses.
// Matrix is indexed [manual][server] using the Labels ordering.
type Report struct {
	Correct   int                     `json:"correct"`
	Incorrect int                     `json:"incorrect"`
	Total     int                     `json:"total"`
	Labels    []datastore.DiseaseType `json:"labels"`
	Matrix    [][]int                 `json:"matrix"`
}

// clone returns an independent copy of the report. Callers receive copies
// so mutating a returned matrix cannot corrupt the cached entry.
func (r *Report) clone() *Report {
	matrix := make([][]int, len(r.Matrix))
	for i, row := range r.Matrix {
		matrix[i] = append([]int(nil), row...)
	}
	return &Report{
		Correct:   r.Correct,
		Incorrect: r.Incorrect,
		Total:     r.Total,
		Labels:    append([]datastore.DiseaseType(nil), r.Labels...),
		Matrix:    matrix,
	}
}

// MatrixByLabel returns the confusion matrix keyed by label pair, a
// rendering-ready view for collaborators that do not track the ordering.
func (r *Report) MatrixByLabel() map[datastore.DiseaseType]map[datastore.DiseaseType]int {
	byLabel := make(map[datastore.DiseaseType]map[datastore.DiseaseType]int, len(r.Labels))
	for i, manual := range r.Labels {
		row := make(map[datastore.DiseaseType]int, len(r.Labels))
		for j, server := range r.Labels {
			row[server] = r.Matrix[i][j]
		}
		byLabel[manual] = row
	}
	return byLabel
}

// Cell returns the matrix count for one (manual, server) label pair.
func (r *Report) Cell(manual, server datastore.DiseaseType) int {
	mi, si := -1, -1
	for i, label := range r.Labels {
		if label == manual {
			mi = i
		}
		if label == server {
			si = i
		}
	}
	if mi < 0 || si < 0 {
		return 0
	}
	return r.Matrix[mi][si]
}

// UploadFolderStats describes the upload directory on disk.
type UploadFolderStats struct {
	Path      string `json:"path"`
	FileCount int    `json:"file_count"`
	TotalSize int64  `json:"total_size_bytes"`
}

// DiskStats is the usage of the filesystem holding the uploads.
type DiskStats struct {
	Total       uint64  `json:"total_bytes"`
	Used        uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// SystemReport summarizes database and storage state for operators.
type SystemReport struct {
	TableRowCounts map[string]int64  `json:"table_row_counts"`
	UploadFolder   UploadFolderStats `json:"upload_folder"`
	Disk           *DiskStats        `json:"disk,omitempty"`
}

// Service computes analytics over the diagnosis store. Agreement reports
// are cached briefly since they scan every qualifying record.
type Service struct {
	settings *conf.Settings
	store    datastore.Interface
	cache    *cache.Cache
}

// New creates an analytics service.
func New(settings *conf.Settings, store datastore.Interface) *Service {
	ttl := settings.Analytics.ReportCacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{
		settings: settings,
		store:    store,
		cache:    cache.New(ttl, 2*ttl),
	}
}

// checkRole gates analytics access to system administrators.
func checkRole(role string) error {
	if role != RoleSystemAdmin {
		return errors.Newf("role %q is not permitted to access analytics", role).
			Component("analytics").
			Category(errors.CategoryForbidden).
			Build()
	}
	return nil
}

// BuildReport returns the agreement report for the given caller role.
func (s *Service) BuildReport(role string) (*Report, error) {
	if err := checkRole(role); err != nil {
		return nil, err
	}
	if cached, found := s.cache.Get(reportCacheKey); found {
		return cached.(*Report).clone(), nil
	}

	pairs, err := s.store.GetAgreementPairs()
	if err != nil {
		return nil, err
	}
	report := buildReport(pairs)
	s.cache.Set(reportCacheKey, report, cache.DefaultExpiration)
	return report.clone(), nil
}

// buildReport fills the confusion matrix in one pass over the pairs.
// Unknown labels are counted in the totals but not in the matrix; they
// indicate a record written by an incompatible version.
func buildReport(pairs []datastore.AgreementPair) *Report {
	labels := datastore.AllDiseaseTypes()
	index := make(map[datastore.DiseaseType]int, len(labels))
	for i, label := range labels {
		index[label] = i
	}

	matrix := make([][]int, len(labels))
	for i := range matrix {
		matrix[i] = make([]int, len(labels))
	}

	report := &Report{Labels: labels, Matrix: matrix}
	for _, pair := range pairs {
		report.Total++
		if pair.Manual == pair.Server {
			report.Correct++
		} else {
			report.Incorrect++
		}
		mi, mok := index[pair.Manual]
		si, sok := index[pair.Server]
		if !mok || !sok {
			getLogger().Warn("agreement pair with unknown label",
				"manual", pair.Manual, "server", pair.Server)
			continue
		}
		matrix[mi][si]++
	}
	return report
}

// SystemReport returns database row counts and upload storage usage.
func (s *Service) SystemReport(role string) (*SystemReport, error) {
	if err := checkRole(role); err != nil {
		return nil, err
	}

	counts, err := s.store.TableRowCounts()
	if err != nil {
		return nil, err
	}

	report := &SystemReport{
		TableRowCounts: counts,
		UploadFolder:   s.uploadFolderStats(),
	}
	if usage, err := disk.Usage(s.settings.Upload.Path); err == nil {
		report.Disk = &DiskStats{
			Total:       usage.Total,
			Used:        usage.Used,
			UsedPercent: usage.UsedPercent,
		}
	}
	return report, nil
}

// uploadFolderStats counts files and bytes in the upload directory. A
// missing directory yields zero stats rather than an error since uploads
// create it lazily.
func (s *Service) uploadFolderStats() UploadFolderStats {
	stats := UploadFolderStats{Path: s.settings.Upload.Path}
	entries, err := os.ReadDir(s.settings.Upload.Path)
	if err != nil {
		return stats
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.FileCount++
		stats.TotalSize += info.Size()
	}
	return stats
}
