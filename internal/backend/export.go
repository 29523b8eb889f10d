package backend

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

// Export formats. The value doubles as the file extension.
const (
	ExportCSV  = "csv"
	ExportXLSX = "xlsx"
	ExportPDF  = "pdf"
)

const (
	exportWindow     = 90 * 24 * time.Hour
	exportLimit      = 10000
	exportTimeLayout = "2006-01-02 03:04:05 PM MST"
	exportSheet      = "Actividad"
)

var exportHeader = []string{
	"ID",
	"Dirección MAC",
	"Zona",
	"Humedad Ambiente",
	"Temperatura Ambiente",
	"Sensor Tierra 1",
	"Sensor Tierra 2",
	"Sensor Tierra 3",
	"Sensor Tierra 4",
	"Sensor Tierra 5",
	"Sensor Tierra 6",
	"Tiempo de Creación",
}

// ExportFilename returns the attachment name for an export generated at now.
func ExportFilename(now time.Time, format string) string {
	return fmt.Sprintf("sensor_activity_data_%s.%s", now.Format("20060102"), format)
}

// ExportLastThreeMonths renders every reading of the last 90 days, newest
// first, in the requested format. Values are exported unrounded.
func (s *SensorActivityService) ExportLastThreeMonths(ctx context.Context, format string) ([]byte, error) {
	end := s.now()
	start := end.Add(-exportWindow)

	activities, err := s.stores.SensorActivities.List(ctx, ActivityFilter{
		Start: &start,
		End:   &end,
		Limit: exportLimit,
	})
	if err != nil {
		return nil, NewInternalError("Error retrieving sensor activities", err)
	}
	if len(activities) == 0 {
		return nil, NewNotFoundError("No sensor activities found")
	}

	var out []byte
	switch format {
	case ExportCSV:
		out, err = s.writeCSV(activities)
	case ExportXLSX:
		out, err = s.writeXLSX(activities)
	case ExportPDF:
		out, err = s.writePDF(activities, start, end)
	default:
		return nil, NewValidationError(fmt.Sprintf("Unsupported export format %q", format))
	}
	if err != nil {
		return nil, NewInternalError("Error exporting sensor activities", err)
	}

	if s.metrics != nil {
		s.metrics.ExportRowsTotal.WithLabelValues(format).Add(float64(len(activities)))
	}
	s.logger.Info("sensor activities exported", "format", format, "rows", len(activities))
	return out, nil
}

// exportRecord renders one activity as export cells. Missing values are empty.
func (s *SensorActivityService) exportRecord(a *SensorActivity) []string {
	record := make([]string, 0, len(exportHeader))
	record = append(record, strconv.FormatUint(uint64(a.ID), 10), a.DeviceID, valueOrEmpty(a.Zone))
	for _, field := range a.measurements() {
		if *field == nil {
			record = append(record, "")
			continue
		}
		record = append(record, strconv.FormatFloat(**field, 'f', -1, 64))
	}
	return append(record, a.CreatedAt.In(s.location).Format(exportTimeLayout))
}

func (s *SensorActivityService) writeCSV(activities []SensorActivity) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	for i := range activities {
		if err := w.Write(s.exportRecord(&activities[i])); err != nil {
			return nil, fmt.Errorf("failed to write csv record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *SensorActivityService) writeXLSX(activities []SensorActivity) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header row: %w", err)
	}

	for i := range activities {
		a := &activities[i]
		row := []any{a.ID, a.DeviceID, valueOrEmpty(a.Zone)}
		for _, field := range a.measurements() {
			if *field == nil {
				row = append(row, "")
				continue
			}
			row = append(row, **field)
		}
		row = append(row, a.CreatedAt.In(s.location).Format(exportTimeLayout))

		if err := f.SetSheetRow(exportSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// pdfColumnWidths are in millimetres and fill a landscape A4 page.
var pdfColumnWidths = []float64{12, 32, 30, 20, 20, 18, 18, 18, 18, 18, 18, 55}

func (s *SensorActivityService) writePDF(activities []SensorActivity, start, end time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "B", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, tr("Actividad de sensores"))
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 9)
	pdf.Cell(0, 5, fmt.Sprintf("%s - %s",
		start.In(s.location).Format(exportTimeLayout),
		end.In(s.location).Format(exportTimeLayout)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 7)
	for i, h := range exportHeader {
		pdf.CellFormat(pdfColumnWidths[i], 6, tr(h), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 7)
	for i := range activities {
		for j, cell := range s.exportRecord(&activities[i]) {
			align := "R"
			if j == 1 || j == 2 {
				align = "L"
			}
			pdf.CellFormat(pdfColumnWidths[j], 5, tr(cell), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func valueOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
