// Command mothership runs the central command node: a MissionLink
// dispatcher, a TelemetryStream acceptor, a mission inbox watcher, and
// the read-only observation HTTP surface, all sharing the mission
// store and identity registry.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/roverfleet/missioncontrol/internal/config"
	"github.com/roverfleet/missioncontrol/internal/dispatch"
	"github.com/roverfleet/missioncontrol/internal/identity"
	"github.com/roverfleet/missioncontrol/internal/mission"
	"github.com/roverfleet/missioncontrol/internal/missioninbox"
	"github.com/roverfleet/missioncontrol/internal/missionlink"
	"github.com/roverfleet/missioncontrol/internal/missionstore"
	"github.com/roverfleet/missioncontrol/internal/observation"
	"github.com/roverfleet/missioncontrol/internal/telemetrystream"
)

// waitSigint blocks until a SIGINT arrives, mirroring
// cmd/dtnd/main.go's signal-then-close shutdown shape.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	var confPath string
	if len(os.Args) > 2 {
		log.Fatalf("Usage: %s [configuration.toml]", os.Args[0])
	}
	if len(os.Args) == 2 {
		confPath = os.Args[1]
	}

	conf, err := config.Load(confPath)
	if err != nil {
		log.WithError(err).Fatal("mothership: failed to load configuration")
	}
	conf.ConfigureLogging()

	registry := identity.NewRegistry()

	store, err := missionstore.NewStore(conf.Storage.MissionDBDir)
	if err != nil {
		log.WithError(err).Fatal("mothership: failed to open mission store")
	}
	defer store.Close()

	ep, err := missionlink.NewEndpoint(conf.DatagramAddr(), conf.Network.BufferSize, conf.ReceiveTimeout())
	if err != nil {
		log.WithError(err).Fatal("mothership: failed to bind MissionLink endpoint")
	}
	defer ep.Close()

	maxBody := missionlink.MaxBodySize(conf.Network.BufferSize)
	disp := dispatch.New(ep, registry, store, conf.Network.RetryLimit, maxBody)

	obsAPI := observation.New(registry, store, conf.Storage.TelemetryRoot)

	// onMissionReady attempts immediate delivery of a freshly dropped
	// mission if its rover is already registered, so an operator does
	// not have to wait for the rover's next Q task-request poll.
	onMissionReady := func(m mission.Mission) {
		if err := disp.DeliverMission(m.RoverID, m); err != nil {
			log.WithError(err).WithField("mission", m.MissionID).Debug("mothership: immediate delivery deferred to next task-request")
			return
		}
		obsAPI.Broadcast(map[string]interface{}{"event": "mission_delivered", "mission_id": m.MissionID, "rover_id": m.RoverID})
	}

	inbox, err := missioninbox.New(conf.Storage.InboxDir, store, onMissionReady)
	if err != nil {
		log.WithError(err).Fatal("mothership: failed to start mission inbox")
	}

	tsServer := telemetrystream.NewServer(conf.Storage.TelemetryRoot, conf.Network.BufferSize, func(path, roverID string) {
		obsAPI.Broadcast(map[string]interface{}{"event": "telemetry_received", "rover_id": roverID, "path": path})
	})
	if err, _ := tsServer.Start(conf.StreamAddr()); err != nil {
		log.WithError(err).Fatal("mothership: failed to start TelemetryStream server")
	}
	defer tsServer.Close()

	httpServer := &http.Server{Addr: conf.ObservationAddr(), Handler: obsAPI}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("mothership: observation server failed")
		}
	}()

	dispatchStop := make(chan struct{})
	go disp.Run(dispatchStop)

	inboxStop := make(chan struct{})
	go inbox.Run(inboxStop)

	log.WithFields(log.Fields{
		"missionlink": conf.DatagramAddr(),
		"telemetry":   conf.StreamAddr(),
		"observation": conf.ObservationAddr(),
	}).Info("mothership: online")

	waitSigint()
	log.Info("mothership: shutting down")

	close(dispatchStop)
	close(inboxStop)
	_ = inbox.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}
