package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/navfoundry/ubx2rinex/pkg/assembler"
	"github.com/navfoundry/ubx2rinex/pkg/diag"
	"github.com/navfoundry/ubx2rinex/pkg/msg"
	"github.com/navfoundry/ubx2rinex/pkg/naming"
	"github.com/navfoundry/ubx2rinex/pkg/rinexout"
	"github.com/navfoundry/ubx2rinex/pkg/routing"
	"github.com/navfoundry/ubx2rinex/pkg/settings"
	"github.com/navfoundry/ubx2rinex/pkg/timescale"
	"github.com/navfoundry/ubx2rinex/pkg/ubx"
)

var VERSION string

const program = "ubx2rinex"

func main() {
	settings.LoadEnv()

	metaPtr := flag.String("settings", "", "settings file")
	devicePtr := flag.String("device", "", "serial device path (probed when empty)")
	replayPtr := flag.String("replay", "", "replay a recorded capture instead of a live device")
	metricsPtr := flag.String("metrics", "", "serve prometheus metrics on this address")
	livePtr := flag.Bool("live", false, "read from a live device")
	flag.Parse()

	if *metaPtr == "" {
		flag.PrintDefaults()
		log.Fatal("missing required -settings argument")
	}
	if !*livePtr && *replayPtr == "" {
		flag.PrintDefaults()
		log.Fatal("either -live or -replay is required")
	}
	if *livePtr && *replayPtr != "" {
		log.Fatal("-live and -replay are mutually exclusive")
	}

	cfg, err := settings.Parse(*metaPtr)
	if err != nil {
		log.Fatalf("settings: %s", err)
	}
	session, err := cfg.Session()
	if err != nil {
		log.Fatalf("settings: %s", err)
	}
	policy, err := cfg.Policy()
	if err != nil {
		log.Fatalf("settings: %s", err)
	}
	constellations, err := cfg.ConstellationSet()
	if err != nil {
		log.Fatalf("settings: %s", err)
	}
	if !cfg.Observation && !cfg.Navigation {
		log.Fatal("nothing to produce: enable observation, navigation or both")
	}

	var obs diag.Observer = diag.Nop{}
	if *metricsPtr != "" {
		metrics, err := diag.NewMetrics(nil)
		if err != nil {
			log.Fatalf("metrics: %s", err)
		}
		obs = metrics
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsPtr, nil); err != nil {
				log.WithError(err).Error("metrics endpoint failed")
			}
		}()
	}

	scale, err := timescale.Select(constellations)
	if err != nil {
		log.Fatalf("timescale: %s", err)
	}
	log.Infof("session timescale is %s", scale)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, err := openSource(ctx, *livePtr, *devicePtr, *replayPtr, cfg, constellations, obs)
	if err != nil {
		log.Fatalf("source: %s", err)
	}
	defer stream.Close()

	obsEnc := rinexout.NewObsEncoder(session, program, cfg.RxClock)
	encoders := make(map[naming.Product]routing.Encoder)
	if cfg.Observation {
		encoders[naming.Observation] = obsEnc
	}
	if cfg.Navigation {
		encoders[naming.Navigation] = rinexout.NewNavEncoder(session, program, scale)
	}

	table := routing.New(session, policy, encoders, nil, obs)
	asm := assembler.New(scale, obs)

	run(ctx, stream, asm, table, obsEnc)

	for _, e := range asm.Drain() {
		routeEpoch(table, e)
	}
	if err := table.Drain(); err != nil {
		log.WithError(err).Error("drain incomplete")
		os.Exit(1)
	}
	log.Info("session complete")
}

// run consumes the stream until it ends or the context is cancelled.
func run(ctx context.Context, stream *ubx.Stream, asm *assembler.Assembler, table *routing.Table, obsEnc *rinexout.ObsEncoder) {
	for {
		rec, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			log.Info("input exhausted")
			return
		}
		if errors.Is(err, context.Canceled) {
			log.Info("shutdown requested")
			return
		}
		if err != nil {
			log.WithError(err).Error("stream failed")
			return
		}

		if info, ok := rec.(msg.ReceiverInfo); ok {
			obsEnc.SetReceiverInfo(rinexout.ReceiverInfo{
				Firmware: info.Firmware,
				Hardware: info.Hardware,
				Protocol: info.Protocol,
			})
			obsEnc.AddComment(fmt.Sprintf("receiver fw %s hw %s", info.Firmware, info.Hardware))
			continue
		}

		for _, e := range asm.Ingest(rec) {
			routeEpoch(table, e)
		}
	}
}

// routeEpoch delivers one sealed epoch. A route failure loses that route's
// current period and the session continues, unless the route's resource is
// unrecoverable, which ends the session.
func routeEpoch(table *routing.Table, e *assembler.Epoch) {
	if err := table.Route(naming.Observation, e); err != nil {
		if errors.Is(err, routing.ErrRouteBroken) {
			log.WithError(err).Fatal("observation output unrecoverable")
		}
		log.WithError(err).Error("observation route")
	}
	if len(e.Ephemerides) > 0 {
		if err := table.Route(naming.Navigation, e); err != nil {
			if errors.Is(err, routing.ErrRouteBroken) {
				log.WithError(err).Fatal("navigation output unrecoverable")
			}
			log.WithError(err).Error("navigation route")
		}
	}
}

// openSource opens the capture or the live device, configuring the latter
// for the message kinds the requested products need.
func openSource(ctx context.Context, live bool, device, replay string, cfg *settings.Settings, constellations []msg.Constellation, obs diag.Observer) (*ubx.Stream, error) {
	if !live {
		return ubx.OpenCapture(replay, obs)
	}

	stream, port, err := ubx.OpenDevice(device, obs)
	if err != nil {
		return nil, err
	}

	kinds := []msg.Kind{msg.KindPVT, msg.KindEndOfEpoch, msg.KindTracking}
	if cfg.Observation {
		kinds = append(kinds, msg.KindRawMeasurement)
	}
	if cfg.Navigation {
		kinds = append(kinds, msg.KindEphemeris)
	}
	if cfg.RxClock {
		kinds = append(kinds, msg.KindClock)
	}
	sampling, err := cfg.SamplingPeriod()
	if err != nil {
		stream.Close()
		return nil, err
	}

	cfgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	enabled, err := ubx.Configure(cfgCtx, port, ubx.DeviceConfig{
		Kinds:          kinds,
		Constellations: constellations,
		Sampling:       sampling,
	})
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("configure device: %w", err)
	}
	for k, ok := range enabled {
		if !ok {
			log.Warnf("%s messages will not arrive", k)
		}
	}

	// identify the receiver for the file headers
	poll := ubx.Frame{Class: ubx.ClassMon, ID: 0x04}
	if _, err := port.Write(poll.Encode()); err != nil {
		log.WithError(err).Warn("receiver version poll failed")
	}
	return stream, nil
}
