package telemetry

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/sirupsen/logrus"
	"github.com/w1xm/pedestal_interface/control"
)

// InfluxConfig selects the InfluxDB endpoint and destination bucket.
type InfluxConfig struct {
	Server string
	Token  string
	Org    string
	Bucket string
}

// InfluxSampler ships snapshots to InfluxDB using the non-blocking write
// API. Write errors are drained to the log.
type InfluxSampler struct {
	Status StatusProvider
	Period time.Duration
	Config InfluxConfig
	Logger *logrus.Logger
}

// Run samples until the context is canceled.
func (s *InfluxSampler) Run(ctx context.Context) error {
	log := s.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	client := influxdb2.NewClient(s.Config.Server, s.Config.Token)
	defer client.Close()
	writeApi := client.WriteApi(s.Config.Org, s.Config.Bucket)
	defer writeApi.Close()

	go func() {
		for err := range writeApi.Errors() {
			log.WithError(err).Error("influx write error")
		}
	}()

	ticker := time.NewTicker(s.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			writeApi.Flush()
			return ctx.Err()
		case <-ticker.C:
			status := s.Status()
			p := influxdb2.NewPoint("pedestal.status",
				nil,
				flattenStatus(status),
				time.Now(),
			)
			writeApi.WritePoint(p)
		}
	}
}

func flattenStatus(status control.SystemStatus) map[string]interface{} {
	fields := map[string]interface{}{
		"state":   status.State.String(),
		"dc_skew": int64(status.DCSkew),
	}
	for a := control.Axis(0); a < control.NumAxes; a++ {
		ax := &status.Axes[a]
		prefix := a.String()
		fields[prefix+".state"] = ax.State.String()
		fields[prefix+".statusword"] = int64(ax.Statusword)
		fields[prefix+".controlword"] = int64(ax.Controlword)
		fields[prefix+".mode"] = ax.Mode.String()
		fields[prefix+".cur_pos"] = int64(ax.CurPos)
		fields[prefix+".tgt_pos"] = int64(ax.TgtPos)
		fields[prefix+".dmd_pos"] = int64(ax.DmdPos)
		fields[prefix+".cur_pos_deg"] = ax.CurPosDeg
		fields[prefix+".cur_vel"] = int64(ax.CurVel)
		fields[prefix+".tgt_vel"] = int64(ax.TgtVel)
		fields[prefix+".cur_vel_deg"] = ax.CurVelDeg
		fields[prefix+".torque"] = int64(ax.CurTorque)
		fields[prefix+".error_code"] = int64(ax.ErrorCode)
		for ch, temp := range ax.Temperatures {
			fields[fmt.Sprintf("%s.temp.%d", prefix, ch)] = int64(temp)
		}
	}
	return fields
}
