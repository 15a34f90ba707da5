package web

import (
	"bytes"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/vitalwatch/platform/pkg/common/models"
)

// sparklineSamples is how many trailing samples a sparkline shows.
const sparklineSamples = 20

// sparkline renders the tail of a channel as a small standalone echarts
// page, meant for an iframe srcdoc. Channels with fewer than two samples
// have nothing to draw and yield "".
func sparkline(label string, s models.Series) (string, error) {
	tail := s.Tail(sparklineSamples)
	if len(tail) < 2 {
		return "", nil
	}

	xAxis := make([]string, 0, len(tail))
	yData := make([]opts.LineData, 0, len(tail))
	for i, v := range tail {
		xAxis = append(xAxis, strconv.Itoa(i+1))
		yData = append(yData, opts.LineData{Value: v})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: label,
			Width:     "220px",
			Height:    "64px",
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show: opts.Bool(false),
		}),
		charts.WithLegendOpts(opts.Legend{
			Show: opts.Bool(false),
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Show: opts.Bool(false),
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Show:  opts.Bool(false),
			Scale: opts.Bool(true),
		}),
		charts.WithGridOpts(opts.Grid{
			Left:   "2",
			Right:  "2",
			Top:    "4",
			Bottom: "4",
		}),
	)
	line.SetXAxis(xAxis).
		AddSeries(label, yData).
		SetSeriesOptions(
			charts.WithLineChartOpts(opts.LineChart{
				Smooth:     opts.Bool(true),
				ShowSymbol: opts.Bool(false),
			}),
		)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
