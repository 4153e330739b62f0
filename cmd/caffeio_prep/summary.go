package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/gomlx/caffeio/pkg/oversample"
)

var (
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

type summaryInfo struct {
	config        *PrepConfig
	mode          oversample.Mode
	oversampleNum int // As used by the pipeline, after defaults.
	numImages     int
	output        *tensors.Tensor
	outputPath    string
	elapsed       time.Duration
}

// summary renders a table describing the prepared batch.
func summary(info *summaryInfo) string {
	table := newPlainTable()
	p := info.config.Pipeline
	table.Row("# images", humanize.Comma(int64(info.numImages)))
	table.Row("mode", info.mode.String())
	table.Row("variants per image", humanize.Comma(int64(info.mode.VariantsPerImage(info.oversampleNum))))
	table.Row("# variants", humanize.Comma(int64(info.output.Shape().Dimensions[0])))
	table.Row("image dims", fmt.Sprintf("%dx%d", p.Image.Height, p.Image.Width))
	table.Row("crop dims", fmt.Sprintf("%dx%d", p.Crop.Height, p.Crop.Width))
	if p.MeanFile != "" {
		table.Row("mean file", p.MeanFile)
	}
	table.Row("output shape", info.output.Shape().String())
	bytes := uint64(info.output.Memory())
	dtype := "float32"
	if info.config.Output.Float16 {
		bytes /= 2
		dtype = "float16"
	}
	table.Row("output", fmt.Sprintf("%s (%s, %s)", info.outputPath, dtype, humanize.Bytes(bytes)))
	table.Row("elapsed", info.elapsed.Round(time.Millisecond).String())
	return titleStyle.Render("caffeio_prep") + "\n" + table.Render()
}
