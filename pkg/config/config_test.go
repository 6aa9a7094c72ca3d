package config

import (
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	var conf Config
	if err := LoadConfigEnv(&conf); err != nil {
		t.Fatal(err)
	}
	if conf.Netplay.GameId != "nes" {
		t.Errorf("gameId = %q", conf.Netplay.GameId)
	}
	if conf.Netplay.MaxPlayers != 2 {
		t.Errorf("maxPlayers = %d", conf.Netplay.MaxPlayers)
	}
	if conf.Relay.Address != "ws://localhost:7447" {
		t.Errorf("relay address = %q", conf.Relay.Address)
	}
	if conf.Relay.QueryTimeout != 10*time.Second {
		t.Errorf("queryTimeout = %v", conf.Relay.QueryTimeout)
	}
	if conf.Webrtc.GatherTimeout != 15*time.Second {
		t.Errorf("gatherTimeout = %v", conf.Webrtc.GatherTimeout)
	}
	if conf.Webrtc.TrickleIce {
		t.Errorf("trickle ICE is on by default")
	}
}

func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("NETPLAY_NETPLAY_GAMEID", "snes")
	t.Setenv("NETPLAY_RELAY_DEDUPSIZE", "128")
	var conf Config
	if err := LoadConfigEnv(&conf); err != nil {
		t.Fatal(err)
	}
	if conf.Netplay.GameId != "snes" {
		t.Errorf("gameId = %q, env override lost", conf.Netplay.GameId)
	}
	if conf.Relay.DedupSize != 128 {
		t.Errorf("dedupSize = %d, env override lost", conf.Relay.DedupSize)
	}
}
