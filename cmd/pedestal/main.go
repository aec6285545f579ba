// Command pedestal is the interactive operator console for the antenna
// pedestal: it brings both servo drives up over EtherCAT, accepts move
// commands and prints status, and optionally samples snapshots to a log
// file and to InfluxDB.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/abiosoft/ishell/v2"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/w1xm/pedestal_interface/config"
	"github.com/w1xm/pedestal_interface/control"
	"github.com/w1xm/pedestal_interface/ecat"
	"github.com/w1xm/pedestal_interface/ecat/simulator"
	"github.com/w1xm/pedestal_interface/power"
	"github.com/w1xm/pedestal_interface/telemetry"
)

var (
	configPath  = flag.String("c", "servo.conf", "path to drive register config file")
	logLevel    = flag.String("l", "warning", "log level (trace, debug, info, warning, error or fatal)")
	logFile     = flag.String("f", "", "path to output log file for periodic status samples")
	logRate     = flag.Uint("r", 100000, "period in microseconds between samples written to the log file")
	cyclePeriod = flag.Duration("period", time.Millisecond, "process data cycle period")
	cpu         = flag.Int("cpu", 0, "pin the cycle thread to this core when positive")
	rtPriority  = flag.Int("rtprio", 0, "SCHED_FIFO priority for the cycle thread (0 to disable)")
	sim         = flag.Bool("sim", false, "run against the built-in bus simulator instead of hardware")
	influx      = flag.Bool("influx", false, "ship status samples to InfluxDB (INFLUX_SERVER/TOKEN/ORG/BUCKET)")
	powerPort   = flag.String("power_port", "", "power supply controller serial port")
	powerBaud   = flag.Int("power_baud", 19200, "power supply controller baud rate")
	powerURL    = flag.String("power_url", "", "power supply controller remote bridge URL")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("bad log level %q: %w", *logLevel, err)
	}
	log.SetLevel(level)

	params, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *powerPort != "" || *powerURL != "" {
		supply, err := power.Connect(ctx, power.Config{
			Port:   *powerPort,
			Baud:   *powerBaud,
			URL:    *powerURL,
			Logger: log,
		}, func(status power.Status) {
			log.WithFields(logrus.Fields{
				"ready":     status.SupplyReady,
				"az_active": status.AzActive,
				"el_active": status.ElActive,
			}).Debug("power supply status")
		})
		if err != nil {
			return fmt.Errorf("connecting power supply: %w", err)
		}
		if err := supply.SetAllEnabled(true); err != nil {
			log.WithError(err).Warn("enabling amplifier supply")
		}
	}

	var bus ecat.Master
	if *sim {
		log.Info("using simulated drives")
		bus = simulator.New(simulator.Options{Period: *cyclePeriod})
	} else {
		return fmt.Errorf("no EtherCAT master support built in; provide one or run with -sim")
	}

	c, err := control.New(bus, params, control.Options{
		CyclePeriod: *cyclePeriod,
		CPU:         *cpu,
		RTPriority:  *rtPriority,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("initializing controller: %w", err)
	}
	defer c.Close()

	g, ctx := errgroup.WithContext(ctx)
	samplePeriod := time.Duration(*logRate) * time.Microsecond
	if *logFile != "" {
		f, err := os.Create(*logFile)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		sampler := &telemetry.FileSampler{Status: c.Status, Period: samplePeriod}
		g.Go(func() error { return sampler.Run(ctx, f) })
	}
	if *influx {
		sampler := &telemetry.InfluxSampler{
			Status: c.Status,
			Period: samplePeriod,
			Config: telemetry.InfluxConfig{
				Server: getenv("INFLUX_SERVER", "http://localhost:9999"),
				Token:  os.Getenv("INFLUX_TOKEN"),
				Org:    getenv("INFLUX_ORG", "w1xm"),
				Bucket: getenv("INFLUX_BUCKET", "pedestal.raw"),
			},
			Logger: log,
		}
		g.Go(func() error { return sampler.Run(ctx) })
	}

	runShell(c)

	cancel()
	g.Wait()
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runShell(c *control.Control) {
	shell := ishell.New()
	shell.Println("Please, specify your commands here ('help' to list them):")

	shell.AddCmd(&ishell.Cmd{
		Name: "s",
		Help: "print system status",
		Func: func(ctx *ishell.Context) {
			printStatus(ctx, c.Status())
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "i",
		Help: "print system info",
		Func: func(ctx *ishell.Context) {
			printInfo(ctx, c.Info())
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "t",
		Help: "print cycle timing",
		Func: func(ctx *ishell.Context) {
			printTiming(ctx, c.CycleInfo())
		},
	})
	shell.AddCmd(axisCmd(c, "a", control.Azimuth))
	shell.AddCmd(axisCmd(c, "e", control.Elevation))
	shell.AddCmd(&ishell.Cmd{
		Name: "q",
		Help: "quit",
		Func: func(ctx *ishell.Context) {
			ctx.Stop()
		},
	})

	shell.Run()
}

func axisCmd(c *control.Control, name string, axis control.Axis) *ishell.Cmd {
	return &ishell.Cmd{
		Name: name,
		Help: fmt.Sprintf("%s v <vel> | %s p <pos> | %s i  -- scan, point or idle the %s drive", name, name, name, axis),
		Func: func(ctx *ishell.Context) {
			if len(ctx.Args) < 1 {
				ctx.Printf("invalid input for command '%s'\n", name)
				return
			}
			var err error
			switch ctx.Args[0] {
			case "v":
				var vel int64
				if vel, err = argValue(ctx, name+" v"); err == nil {
					err = c.ScanAt(axis, int32(vel))
				}
			case "p":
				var pos int64
				if pos, err = argValue(ctx, name+" p"); err == nil {
					err = c.PointTo(axis, int32(pos))
				}
			case "i":
				// Idle also recovers a faulted drive.
				if c.Status().Axes[axis].State == control.AxisError {
					err = c.ResetFault(axis)
				} else {
					err = c.SetIdle(axis)
				}
			default:
				ctx.Printf("invalid input for command '%s'\n", name)
				return
			}
			if err != nil {
				ctx.Println(err)
			}
		},
	}
}

func argValue(ctx *ishell.Context, cmd string) (int64, error) {
	if len(ctx.Args) < 2 {
		return 0, fmt.Errorf("invalid input for command '%s'", cmd)
	}
	v, err := strconv.ParseInt(ctx.Args[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad value %q: %v", ctx.Args[1], err)
	}
	return v, nil
}

func printStatus(ctx *ishell.Context, status control.SystemStatus) {
	ctx.Printf("System > state: %s\n", status.State)
	for a := control.Axis(0); a < control.NumAxes; a++ {
		ax := &status.Axes[a]
		ctx.Printf("Axis %d > state: %s statusword: 0x%04x ctrlword: 0x%04x mode: %s"+
			" cur_pos: %d tgt_pos: %d dmd_pos: %d"+
			" cur_vel: %d tgt_vel: %d dmd_vel: %d"+
			" cur_trq: %d cur_tmp: %d\n",
			a, ax.State, ax.Statusword, ax.Controlword, ax.Mode,
			ax.CurPos, ax.TgtPos, ax.DmdPos,
			ax.CurVel, ax.TgtVel, ax.DmdVel,
			ax.CurTorque, ax.Temperatures[0])
	}
}

func printInfo(ctx *ishell.Context, info control.SystemInfo) {
	for a := control.Axis(0); a < control.NumAxes; a++ {
		ai := &info.Axes[a]
		ctx.Printf("Axis %d > dev_name: %s encoder_resolution: %d hw_version: %s sw_version: %s\n",
			a, ai.DevName, ai.EncoderPulsesPerRev, ai.HWVersion, ai.SWVersion)
	}
}

func printTiming(ctx *ishell.Context, info control.CycleTimeInfo) {
	ctx.Printf("cycles: %d missed: %d intents: %d invalid: %d\n",
		info.Cycles, info.MissedCycles, info.Intents, info.InvalidIntents)
	ctx.Printf("period ns: last %d min %d max %d\n", info.PeriodNS, info.PeriodMinNS, info.PeriodMaxNS)
	ctx.Printf("exec   ns: last %d min %d max %d\n", info.ExecNS, info.ExecMinNS, info.ExecMaxNS)
	ctx.Printf("latency ns: last %d min %d max %d\n", info.LatencyNS, info.LatencyMinNS, info.LatencyMaxNS)
}
