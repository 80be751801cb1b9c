/*
DESCRIPTION
  plot.go renders a per-frame QP trajectory to a PNG, marking frames whose
  BRC verdict was not OK.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package main

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ausocean/brc/brc"
)

// plotSamples writes a QP-over-frame-index line plot to path, with a
// scatter overlay marking recode verdicts.
func plotSamples(samples []sample, path string) error {
	p := plot.New()
	p.Title.Text = "BRC QP trajectory"
	p.X.Label.Text = "frame"
	p.Y.Label.Text = "QP"

	qpLine := make(plotter.XYs, len(samples))
	var recodes plotter.XYs
	for i, s := range samples {
		qpLine[i].X = float64(i)
		qpLine[i].Y = float64(s.qp)
		if s.verdict != brc.VerdictOK {
			recodes = append(recodes, plotter.XY{X: float64(i), Y: float64(s.qp)})
		}
	}

	line, err := plotter.NewLine(qpLine)
	if err != nil {
		return err
	}
	p.Add(line)

	if len(recodes) > 0 {
		scatter, err := plotter.NewScatter(recodes)
		if err != nil {
			return err
		}
		p.Add(scatter)
	}

	return p.Save(10*vg.Inch, 4*vg.Inch, path)
}
