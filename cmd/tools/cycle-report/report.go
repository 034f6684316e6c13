package main

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/modeld/internal/modeld/store"
)

// renderReport writes drop_ratio.png and exec_ms.png for cycles into dir
// and returns the written paths. Cycles are plotted by their index in the
// run so gaps in frame ids stay visible as drop-ratio steps.
func renderReport(runID string, cycles []store.Cycle, dir string) ([]string, error) {
	if len(cycles) == 0 {
		return nil, fmt.Errorf("run %s has no cycles", runID)
	}

	dropPts := make(plotter.XYs, 0, len(cycles))
	rawPts := make(plotter.XYs, 0, len(cycles))
	execPts := make(plotter.XYs, 0, len(cycles))
	for i, c := range cycles {
		x := float64(i)
		dropPts = append(dropPts, plotter.XY{X: x, Y: c.DropRatio * 100})
		rawPts = append(rawPts, plotter.XY{X: x, Y: float64(c.RawDropped)})
		if c.Published {
			execPts = append(execPts, plotter.XY{X: x, Y: c.ExecMs})
		}
	}

	pDrop := plot.New()
	pDrop.Title.Text = fmt.Sprintf("Run %s - Frame Drops", runID)
	pDrop.X.Label.Text = "Cycle"
	pDrop.Y.Label.Text = "Drop % / raw dropped"
	if err := addLine(pDrop, "drop %", dropPts, color.RGBA{R: 200, G: 40, B: 40, A: 255}); err != nil {
		return nil, err
	}
	if err := addLine(pDrop, "raw dropped", rawPts, color.RGBA{R: 60, G: 60, B: 60, A: 255}); err != nil {
		return nil, err
	}

	pExec := plot.New()
	pExec.Title.Text = fmt.Sprintf("Run %s - Model Execution Time", runID)
	pExec.X.Label.Text = "Cycle"
	pExec.Y.Label.Text = "ms"
	if len(execPts) > 0 {
		if err := addLine(pExec, "exec ms", execPts, color.RGBA{R: 40, G: 90, B: 200, A: 255}); err != nil {
			return nil, err
		}
	}

	for _, p := range []*plot.Plot{pDrop, pExec} {
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10
	}

	dropFile := filepath.Join(dir, "drop_ratio.png")
	if err := pDrop.Save(14*vg.Inch, 6*vg.Inch, dropFile); err != nil {
		return nil, fmt.Errorf("save drop plot: %w", err)
	}
	execFile := filepath.Join(dir, "exec_ms.png")
	if err := pExec.Save(14*vg.Inch, 6*vg.Inch, execFile); err != nil {
		return nil, fmt.Errorf("save exec plot: %w", err)
	}
	return []string{dropFile, execFile}, nil
}

func addLine(p *plot.Plot, label string, pts plotter.XYs, c color.Color) error {
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("create %s line: %w", label, err)
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}
