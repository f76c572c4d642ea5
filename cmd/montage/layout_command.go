package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bobarin/montage/internal/config"
	"github.com/bobarin/montage/internal/models"
	"github.com/bobarin/montage/internal/timeline"
)

func newLayoutCommand() *cobra.Command {
	defaults := config.Defaults().Timeline
	var fps int
	var transitionSec float64
	var transitionType string

	cmd := &cobra.Command{
		Use:   "layout <production-file>",
		Short: "Print the frame layout of a production without generating anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prod, err := loadProduction(args[0])
			if err != nil {
				return err
			}
			layout, err := timeline.Build(prod.Scenes, timeline.Settings{
				FPS:               fps,
				DefaultTransition: models.TransitionSpec{Type: models.TransitionType(transitionType), DurationSec: transitionSec},
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderLayout(layout))
			if len(layout.Boundaries) > 0 {
				fmt.Fprintln(out, renderBoundaries(layout))
			}
			for _, w := range layout.Warnings {
				fmt.Fprintf(out, "warning [%s] %s\n", w.Code, w.Message)
			}
			fmt.Fprintf(out, "Total: %d frames at %d fps (%d scene frames - %d overlap)\n",
				layout.ContentFrames(), layout.FPS, layout.SumSceneFrames(), layout.SumOverlapFrames())
			return nil
		},
	}

	cmd.Flags().IntVar(&fps, "fps", defaults.FPS, "Frames per second")
	cmd.Flags().Float64Var(&transitionSec, "transition-sec", defaults.DefaultTransitionSec, "Default transition duration in seconds")
	cmd.Flags().StringVar(&transitionType, "transition", string(defaults.DefaultTransitionType), "Default transition type")
	return cmd
}

func renderLayout(l timeline.Layout) string {
	rows := make([][]string, 0, len(l.Scenes))
	for _, s := range l.Scenes {
		rows = append(rows, []string{
			s.SceneID,
			strconv.Itoa(s.StartFrame),
			strconv.Itoa(s.EndFrame),
			strconv.Itoa(s.Frames()),
		})
	}
	columns := []column{{title: "Scene"}, {title: "Start", numeric: true}, {title: "End", numeric: true}, {title: "Frames", numeric: true}}
	return renderTable(columns, rows, "", "", "sum", strconv.Itoa(l.SumSceneFrames()))
}

func renderBoundaries(l timeline.Layout) string {
	rows := make([][]string, 0, len(l.Boundaries))
	for _, b := range l.Boundaries {
		clamped := ""
		if b.Clamped {
			clamped = "yes"
		}
		rows = append(rows, []string{
			b.FromSceneID + " > " + b.ToSceneID,
			string(b.Spec.Type),
			strconv.Itoa(b.OverlapFrames),
			fmt.Sprintf("%d-%d", b.StartFrame, b.EndFrame),
			clamped,
		})
	}
	columns := []column{{title: "Boundary"}, {title: "Type"}, {title: "Overlap", numeric: true}, {title: "Window", numeric: true}, {title: "Clamped"}}
	return renderTable(columns, rows, "", "", strconv.Itoa(l.SumOverlapFrames()))
}
