package config

import (
	"time"

	"github.com/spf13/pflag"
)

type (
	Config struct {
		Netplay    Netplay
		Relay      Relay
		Webrtc     Webrtc
		Monitoring Monitoring
		Debug      bool
	}
	Netplay struct {
		// GameId marks which game the hosted room plays.
		GameId string `fig:"gameId" default:"nes"`
		// MaxPlayers is the room capacity, host included.
		MaxPlayers int `fig:"maxPlayers" default:"2"`
		// PubKey is this party's identity on the relay. Generated
		// when left empty.
		PubKey string `fig:"pubKey"`
	}
	Relay struct {
		Address string `fig:"address" default:"ws://localhost:7447"`
		// QueryTimeout bounds one-shot session snapshot lookups.
		QueryTimeout time.Duration `fig:"queryTimeout" default:"10s"`
		// Lookback is how far behind a fresh subscription reads, to
		// tolerate events published before the subscription went live.
		Lookback time.Duration `fig:"lookback" default:"1m"`
		// DedupSize caps the processed event id set.
		DedupSize int `fig:"dedupSize" default:"512"`
	}
	Webrtc struct {
		DisableDefaultInterceptors bool `fig:"disableDefaultInterceptors"`
		IceServers                 []IceServer
		IcePorts                   struct {
			Min uint16
			Max uint16
		}
		IceIpMap string
		// TrickleIce streams candidates as separate relay events
		// instead of bundling them into the offer/answer. Off by
		// default: every candidate message costs an event-log
		// round trip.
		TrickleIce    bool          `fig:"trickleIce"`
		GatherTimeout time.Duration `fig:"gatherTimeout" default:"15s"`
		LogLevel      int           `fig:"logLevel" default:"3"`
		Media         Media
	}
	Media struct {
		// Stream enables outgoing video/audio tracks (the host is
		// the media source; guests receive only).
		Stream     bool   `fig:"stream"`
		VideoCodec string `fig:"videoCodec" default:"h264"`
		AudioCodec string `fig:"audioCodec" default:"opus"`
	}
	IceServer struct {
		Urls       string `json:"urls,omitempty"`
		Username   string `json:"username,omitempty"`
		Credential string `json:"credential,omitempty"`
	}
	Monitoring struct {
		Port             int
		URLPrefix        string `fig:"urlPrefix"`
		ProfilingEnabled bool   `fig:"profilingEnabled"`
		MetricEnabled    bool   `fig:"metricEnabled" default:"true"`
	}
)

func (w *Webrtc) HasPortRange() bool { return w.IcePorts.Min > 0 && w.IcePorts.Max > 0 }
func (w *Webrtc) HasIceIpMap() bool  { return w.IceIpMap != "" }

// allows custom config path
var configPath string

func NewConfig() *Config {
	var conf Config
	if err := LoadConfig(&conf, configPath); err != nil {
		// A missing config file is fine, defaults and env cover it.
		_ = LoadConfigEnv(&conf)
	}
	if len(conf.Webrtc.IceServers) == 0 {
		conf.Webrtc.IceServers = []IceServer{{Urls: "stun:stun.l.google.com:19302"}}
	}
	return &conf
}

func (c *Config) WithFlags(fs *pflag.FlagSet) *Config {
	fs.StringVar(&c.Netplay.GameId, "game", c.Netplay.GameId, "Game id of the hosted room")
	fs.IntVar(&c.Netplay.MaxPlayers, "players", c.Netplay.MaxPlayers, "Room capacity, host included")
	fs.StringVar(&c.Netplay.PubKey, "pubkey", c.Netplay.PubKey, "Identity on the relay")
	fs.StringVar(&c.Relay.Address, "relay", c.Relay.Address, "Relay websocket address")
	fs.IntVar(&c.Monitoring.Port, "monitoring.port", c.Monitoring.Port, "Monitoring server port")
	fs.BoolVar(&c.Debug, "v", c.Debug, "Verbose logging")
	fs.StringVarP(&configPath, "conf", "c", "", "Set custom configuration file path")
	return c
}

func (c *Config) ParseFlags() {
	c.WithFlags(pflag.CommandLine)
	pflag.Parse()
}
