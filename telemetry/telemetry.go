// Package telemetry contains the status samplers: goroutines that read the
// controller's lock-free snapshot at a fixed rate and write it to a log
// file or to InfluxDB. Samplers never touch the cycle thread; they only
// load published snapshots.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/w1xm/pedestal_interface/control"
)

// StatusProvider returns the current snapshot. control.Control.Status
// satisfies it.
type StatusProvider func() control.SystemStatus

// FileSampler appends one tab-separated status row per period to w.
type FileSampler struct {
	Status StatusProvider
	Period time.Duration
}

var fileHeader = "" +
	"1.DateTime\t2.State\t" +
	"3.StateA\t4.StatusWordA\t5.ControlWordA\t6.ModeA\t7.CurPosA\t8.TgtPosA\t9.DmdPosA\t" +
	"10.CurVelA\t11.TgtVelA\t12.DmdVelA\t13.CurTrqA\t14.CurTempA\t" +
	"15.StateE\t16.StatusWordE\t17.ControlWordE\t18.ModeE\t19.CurPosE\t20.TgtPosE\t21.DmdPosE\t" +
	"22.CurVelE\t23.TgtVelE\t24.DmdVelE\t25.CurTrqE\t26.CurTempE"

// Run samples until the context is canceled. The header is written once at
// start.
func (s *FileSampler) Run(ctx context.Context, w io.Writer) error {
	if _, err := fmt.Fprintln(w, fileHeader); err != nil {
		return err
	}
	ticker := time.NewTicker(s.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := writeRow(w, s.Status()); err != nil {
				return err
			}
		}
	}
}

func writeRow(w io.Writer, status control.SystemStatus) error {
	if _, err := fmt.Fprintf(w, "%s\t%s",
		time.Now().Format("2006-01-02 15:04:05.000000"), status.State); err != nil {
		return err
	}
	for a := control.Axis(0); a < control.NumAxes; a++ {
		ax := &status.Axes[a]
		if _, err := fmt.Fprintf(w, "\t%s\t0x%04x\t0x%04x\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d",
			ax.State, ax.Statusword, ax.Controlword, ax.Mode,
			ax.CurPos, ax.TgtPos, ax.DmdPos,
			ax.CurVel, ax.TgtVel, ax.DmdVel,
			ax.CurTorque, ax.Temperatures[0]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}
