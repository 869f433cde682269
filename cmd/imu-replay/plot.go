package main

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

func savePlot(path string, pts []point) error {
	if len(pts) == 0 {
		return fmt.Errorf("nothing to plot")
	}
	p := plot.New()
	p.Title.Text = "Orientation"
	p.X.Label.Text = "t (s)"
	p.Y.Label.Text = "deg"

	roll := make(plotter.XYs, len(pts))
	pitch := make(plotter.XYs, len(pts))
	yaw := make(plotter.XYs, len(pts))
	for i, pt := range pts {
		roll[i].X, roll[i].Y = pt.T, pt.Roll
		pitch[i].X, pitch[i].Y = pt.T, pt.Pitch
		yaw[i].X, yaw[i].Y = pt.T, pt.Yaw
	}
	if err := plotutil.AddLines(p, "roll", roll, "pitch", pitch, "yaw", yaw); err != nil {
		return err
	}
	return p.Save(10*vg.Inch, 5*vg.Inch, path)
}
