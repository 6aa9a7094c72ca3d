package main

import (
	"context"
	"net/url"
	"time"

	"github.com/retroplay/netplay/pkg/api"
	"github.com/retroplay/netplay/pkg/com"
	"github.com/retroplay/netplay/pkg/config"
	"github.com/retroplay/netplay/pkg/logger"
	"github.com/retroplay/netplay/pkg/monitoring"
	"github.com/retroplay/netplay/pkg/os"
	"github.com/retroplay/netplay/pkg/relay"
	"github.com/retroplay/netplay/pkg/session"
	"github.com/retroplay/netplay/pkg/signal"
	"github.com/retroplay/netplay/pkg/webrtc"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewConfig()
	conf.ParseFlags()

	log := logger.NewConsole(conf.Debug, "n", false)
	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	mode := flag.Arg(0)
	if mode == "" {
		mode = "host"
	}
	switch mode {
	case "relay":
		runRelay(conf, log)
	case "host":
		runParty(conf, log, "")
	case "join":
		id := flag.Arg(1)
		if id == "" {
			log.Fatal().Msg("join needs a session id")
		}
		runParty(conf, log, id)
	default:
		log.Fatal().Msgf("unknown mode %q, use host, join, or relay", mode)
	}
}

// runRelay serves the event log itself, for setups with no external
// relay around.
func runRelay(conf *config.Config, log *logger.Logger) {
	addr := ":7447"
	if u, err := url.Parse(conf.Relay.Address); err == nil && u.Port() != "" {
		addr = ":" + u.Port()
	}
	srv := relay.NewServer(addr, log)
	go srv.Run()
	<-os.ExpectTermination()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("relay shutdown errors")
	}
}

// runParty hosts a session when joinId is empty, joins it otherwise.
func runParty(conf *config.Config, log *logger.Logger, joinId string) {
	if conf.Netplay.PubKey == "" {
		conf.Netplay.PubKey = com.NewUid().String()
		log.Warn().Msgf("no identity configured, using ephemeral %v", conf.Netplay.PubKey)
	}

	ctx := context.Background()
	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	client, err := relay.Dial(dialCtx, conf.Relay.Address, log)
	cancelDial()
	if err != nil {
		log.Fatal().Err(err).Msgf("no relay at %v", conf.Relay.Address)
	}
	defer client.Close()

	manager, err := webrtc.NewManager(conf.Webrtc, log)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc init fail")
	}
	ch := signal.NewChannel(client, conf.Relay, log)
	ctrl := session.NewController(conf.Netplay, ch, manager, log)

	manager.OnState(ctrl.PeerStateChanged)
	manager.OnMessage(func(remote string, data []byte) {
		log.Debug().Str("peer", remote).Int("bytes", len(data)).Msg("input")
	})
	manager.OnCandidate(func(remote string, payload string) {
		err := ch.PublishSignal(ctx, &api.SignalMessage{
			Type:      api.SignalCandidate,
			SessionId: ctrl.Session().Id,
			From:      conf.Netplay.PubKey,
			To:        remote,
			Payload:   payload,
		})
		if err != nil {
			log.Error().Err(err).Msg("candidate publish fail")
		}
	})
	ctrl.OnPlayers(func(players []api.ConnectedPlayer) {
		for _, p := range players {
			log.Info().Msgf("player %v is %v", p.PubKey, p.Status)
		}
	})

	var mon *monitoring.Monitoring
	if conf.Monitoring.Port > 0 {
		mon = monitoring.New(conf.Monitoring, log)
		go mon.Run()
	}

	if joinId == "" {
		id, err := ctrl.StartSession(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("session start fail")
		}
		log.Info().Msgf("hosting %v, waiting for players", id)
	} else {
		joinCtx, cancelJoin := context.WithTimeout(ctx, time.Minute)
		err := ctrl.JoinSession(joinCtx, joinId)
		cancelJoin()
		if err != nil {
			log.Fatal().Err(err).Msgf("could not join %v", joinId)
		}
		log.Info().Msgf("connected to %v", joinId)
	}

	<-os.ExpectTermination()
	shutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := ctrl.Leave(shutCtx); err != nil {
		log.Error().Err(err).Msg("session teardown errors")
	}
	if mon != nil {
		if err := mon.Shutdown(shutCtx); err != nil {
			log.Error().Err(err).Msg("monitoring shutdown errors")
		}
	}
}
