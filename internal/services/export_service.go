package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/database/minio"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
)

const (
	ConfirmedLeaksFile = "Efficient_Confirmed_Leaks.csv"
	LeakSummaryFile    = "Leak_Summary.csv"
	csvContentType     = "text/csv"
)

// Uploader is the object storage surface the exporter writes to.
type Uploader interface {
	UploadBytes(ctx context.Context, bucketName, objectName string, data []byte, contentType string) error
}

// SiteLeakSummary aggregates the confirmed leaks of one site.
type SiteLeakSummary struct {
	SiteID           string  `json:"site_id"`
	NumLeaks         int     `json:"num_leaks"`
	TotalVolumeL     float64 `json:"total_volume"`
	AvgDurationHours float64 `json:"avg_duration"`
}

// ExportService writes the confirmed-leak table and per-site summary of a
// replay to the export folder and, when configured, to object storage.
type ExportService struct {
	folder   string
	uploader Uploader
}

func NewExportService(folder string, uploader Uploader) *ExportService {
	return &ExportService{folder: folder, uploader: uploader}
}

var confirmedHeader = []string{
	"event_id", "site_id", "status", "start_time", "end_time", "alert_date",
	"severity_max", "confidence", "max_deltaNF", "volume_lost_kL", "total_volume_L",
	"duration_hours", "days_persisted", "reason_codes", "category",
}

// ConfirmedLeaks returns the confirmed, unsuppressed incidents ordered by site and start.
func ConfirmedLeaks(results []*SiteResult) []models.IncidentRecord {
	out := []models.IncidentRecord{}
	for _, res := range results {
		for _, rec := range res.Incidents {
			if rec.IsConfirmed() && rec.SuppressedBy == "" {
				out = append(out, rec)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SiteID != out[j].SiteID {
			return out[i].SiteID < out[j].SiteID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

func Summarize(confirmed []models.IncidentRecord) []SiteLeakSummary {
	bySite := map[string]*SiteLeakSummary{}
	var order []string
	for _, rec := range confirmed {
		sum, ok := bySite[rec.SiteID]
		if !ok {
			sum = &SiteLeakSummary{SiteID: rec.SiteID}
			bySite[rec.SiteID] = sum
			order = append(order, rec.SiteID)
		}
		sum.NumLeaks++
		sum.TotalVolumeL += rec.TotalVolumeL
		sum.AvgDurationHours += rec.DurationHours
	}
	sort.Strings(order)
	out := make([]SiteLeakSummary, 0, len(order))
	for _, site := range order {
		sum := bySite[site]
		sum.AvgDurationHours /= float64(sum.NumLeaks)
		out = append(out, *sum)
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func EncodeConfirmedLeaks(confirmed []models.IncidentRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(confirmedHeader); err != nil {
		return nil, err
	}
	for _, rec := range confirmed {
		row := []string{
			rec.EventID,
			rec.SiteID,
			string(rec.Status),
			models.DayKey(rec.StartTime),
			models.DayKey(rec.EndTime),
			models.DayKey(rec.AlertDate),
			rec.SeverityMax,
			formatFloat(rec.Confidence),
			formatFloat(rec.MaxDeltaNF),
			formatFloat(rec.VolumeLostKL),
			formatFloat(rec.TotalVolumeL),
			formatFloat(rec.DurationHours),
			strconv.Itoa(rec.DaysPersisted),
			strings.Join(rec.ReasonCodes, ", "),
			rec.Category,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func EncodeSummary(summary []SiteLeakSummary) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"site_id", "num_leaks", "total_volume", "avg_duration"}); err != nil {
		return nil, err
	}
	for _, s := range summary {
		if err := w.Write([]string{s.SiteID, strconv.Itoa(s.NumLeaks), formatFloat(s.TotalVolumeL), formatFloat(s.AvgDurationHours)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Export writes both tables. The summary is skipped when nothing was confirmed.
func (s *ExportService) Export(ctx context.Context, runID string, results []*SiteResult) error {
	confirmed := ConfirmedLeaks(results)
	leaks, err := EncodeConfirmedLeaks(confirmed)
	if err != nil {
		return fmt.Errorf("failed to encode confirmed leaks: %w", err)
	}
	if err := s.write(ctx, minio.Storage.LeakExports, runID, ConfirmedLeaksFile, leaks); err != nil {
		return err
	}
	slog.Info("Exported confirmed leaks", "run_id", runID, "count", len(confirmed))

	if len(confirmed) == 0 {
		return nil
	}
	summary, err := EncodeSummary(Summarize(confirmed))
	if err != nil {
		return fmt.Errorf("failed to encode leak summary: %w", err)
	}
	return s.write(ctx, minio.Storage.SiteSummaries, runID, LeakSummaryFile, summary)
}

func (s *ExportService) write(ctx context.Context, bucket, runID, name string, data []byte) error {
	if s.folder != "" {
		if err := os.MkdirAll(s.folder, 0o755); err != nil {
			return fmt.Errorf("failed to create export folder: %w", err)
		}
		if err := os.WriteFile(filepath.Join(s.folder, name), data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	if s.uploader != nil {
		object := fmt.Sprintf("%s/%s/%s", time.Now().UTC().Format(models.DateLayout), runID, name)
		if err := s.uploader.UploadBytes(ctx, bucket, object, data, csvContentType); err != nil {
			return fmt.Errorf("failed to upload %s: %w", name, err)
		}
	}
	return nil
}
