package http

import (
	"bytes"
	"fmt"

	"github.com/wcharczuk/go-chart/v2"

	"moneta/internal/core"
)

const (
	chartWidth  = 800
	chartHeight = 800
)

// RenderBreakdownChart draws the expense share per category as a PNG pie
// chart. It returns nil bytes when there is nothing to draw.
func RenderBreakdownChart(breakdown []core.CategoryAmount) ([]byte, error) {
	values := make([]chart.Value, 0, len(breakdown))
	for _, c := range breakdown {
		if c.Amount.Cents <= 0 {
			continue
		}
		values = append(values, chart.Value{
			Label: fmt.Sprintf("%s: %s (%s%%)", c.Name, c.Amount, c.Percent.StringFixed(1)),
			Value: c.Amount.Float(),
			Style: chart.Style{
				FontSize:  12,
				FontColor: chart.ColorBlack,
			},
		})
	}
	if len(values) == 0 {
		return nil, nil
	}

	pie := chart.PieChart{
		Title:  "Expenses by category",
		Width:  chartWidth,
		Height: chartHeight,
		Values: values,
		Background: chart.Style{
			Padding: chart.Box{
				Top:    50,
				Left:   50,
				Right:  50,
				Bottom: 50,
			},
			FillColor: chart.ColorWhite,
		},
	}

	buffer := bytes.NewBuffer([]byte{})
	if err := pie.Render(chart.PNG, buffer); err != nil {
		return nil, fmt.Errorf("render breakdown chart: %w", err)
	}
	return buffer.Bytes(), nil
}
