package web

import (
	"fmt"
	"io"
	"time"

	"github.com/360EntSecGroup-Skylar/excelize"

	"github.com/vitalwatch/platform/pkg/common/models"
	"github.com/vitalwatch/platform/pkg/viewmodel"
)

const exportSheet = "Patients"

var exportHeaders = []string{
	"Aadhaar",
	"Name",
	"Age",
	"Gender",
	"Area",
	"Last Reading",
	"Heart Rate (bpm)",
	"SpO2 (%)",
	"Temperature (°C)",
	"ECG",
	"Latest Diagnosis",
}

func cell(col, row int) string {
	return fmt.Sprintf("%c%d", 'A'+col, row)
}

// writeAreaExport writes one row per patient with its newest reading and
// newest insight.
func writeAreaExport(w io.Writer, list []models.Patient, loc *time.Location) error {
	file := excelize.NewFile()
	file.NewSheet(exportSheet)
	file.DeleteSheet("Sheet1")
	file.SetActiveSheet(file.GetSheetIndex(exportSheet))

	for i, h := range exportHeaders {
		file.SetCellValue(exportSheet, cell(i, 1), h)
	}

	for i, p := range list {
		row := i + 2
		values := []interface{}{
			p.Info.Aadhaar,
			p.Info.Name,
			p.Info.Age,
			string(p.Info.Gender),
			p.Info.Area,
		}
		if latest, ok := viewmodel.Latest(p.Records, loc); ok {
			values = append(values,
				latest.Record.Timestamp.Format(loc),
				latestOrBlank(latest.Record.HeartRate),
				latestOrBlank(latest.Record.SpO2),
				latestOrBlank(latest.Record.Temperature),
				latestOrBlank(latest.Record.ECGChannel()),
			)
		} else {
			values = append(values, "", "", "", "", "")
		}
		if insights := viewmodel.SortInsights(p.MLInsights, loc); len(insights) > 0 {
			values = append(values, insights[0].Insight.Diagnosis)
		} else {
			values = append(values, "")
		}

		for col, v := range values {
			file.SetCellValue(exportSheet, cell(col, row), v)
		}
	}

	return file.Write(w)
}

func latestOrBlank(s models.Series) interface{} {
	if v, ok := s.Latest(); ok {
		return v
	}
	return ""
}
