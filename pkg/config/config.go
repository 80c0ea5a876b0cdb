package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	Client     Client
	Signal     Signal
	Webrtc     Webrtc
	Media      Media
	Screen     Screen
	Recording  Recording
	Storage    Storage
	Sounds     Sounds
	Monitoring Monitoring
}

type Client struct {
	Debug     bool
	Username  string
	CacheDir  string
	Reconnect Reconnect
}

type Reconnect struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

type Signal struct {
	Address string
	Token   string
}

type Webrtc struct {
	DisableDefaultInterceptors bool
	IceServers                 []IceServer
	IceFetch                   IceFetch
	IcePorts                   struct {
		Min uint16
		Max uint16
	}
	IceIpMap   string
	SinglePort int
	LogLevel   int
}

type IceServer struct {
	Urls       string `json:"urls,omitempty"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

type IceFetch struct {
	URL     string
	Timeout time.Duration
	// Slack subtracted from the advertised credential TTL
	// before the cached list is considered stale.
	TTLSlack time.Duration
}

type Media struct {
	InputDevice  string
	OutputDevice string
	SampleRate   int
	Channels     int
	Gain         float64
	Volume       float64
	Sensitivity  int
	Mode         string
	Debounce     time.Duration
	// Frame is the capture frame length in milliseconds.
	// Valid Opus sizes only: 10, 20, 40, 60.
	Frame         int
	EchoCancel    bool
	NoiseSuppress bool
	AutoGain      bool
	Opus          Opus
}

type Opus struct {
	Bitrate int
	FEC     bool
}

type Screen struct {
	Display  int
	Preset   string
	Adaptive Adaptive
}

type Adaptive struct {
	Enabled  bool
	Interval time.Duration
	Window   int
	// Tier upgrade thresholds in kbps, lowest bucket first.
	Thresholds []int
}

type Recording struct {
	Enabled bool
	Folder  string
	Name    string
	Zip     bool
}

type Storage struct {
	Provider string
	Bucket   string
	Key      string
}

type Sounds struct {
	Enabled bool
	URL     string
	Dir     string
}

type Monitoring struct {
	Port             int
	URLPrefix        string
	MetricEnabled    bool `fig:"metric_enabled"`
	ProfilingEnabled bool `fig:"profiling_enabled"`
	Https            bool
	Tls              MonitoringTls
}

type MonitoringTls struct {
	Domain string
	Cert   string
	Key    string
}

func (m Monitoring) IsEnabled() bool { return m.MetricEnabled || m.ProfilingEnabled }

// allows custom config path
var configPath string

// NewConfig loads the config file when it is found, else runs on
// env variables and defaults alone.
func NewConfig() *Config {
	var conf Config
	_ = LoadConfig(&conf, configPath)
	conf.expand()
	return &conf
}

func (c *Config) expand() {
	if c.Client.Reconnect.BaseDelay == 0 {
		c.Client.Reconnect.BaseDelay = time.Second
	}
	if c.Client.Reconnect.MaxDelay == 0 {
		c.Client.Reconnect.MaxDelay = 10 * time.Second
	}
	if c.Client.Reconnect.MaxAttempts == 0 {
		c.Client.Reconnect.MaxAttempts = 5
	}
	if c.Media.SampleRate == 0 {
		c.Media.SampleRate = 48000
	}
	if c.Media.Channels == 0 {
		c.Media.Channels = 1
	}
	if c.Media.Gain == 0 {
		c.Media.Gain = 1
	}
	if c.Media.Volume == 0 {
		c.Media.Volume = 1
	}
	if c.Media.Debounce == 0 {
		c.Media.Debounce = 150 * time.Millisecond
	}
	switch c.Media.Frame {
	case 10, 20, 40, 60:
	default:
		c.Media.Frame = 20
	}
	if c.Screen.Adaptive.Interval == 0 {
		c.Screen.Adaptive.Interval = 2 * time.Second
	}
	if c.Screen.Adaptive.Window == 0 {
		c.Screen.Adaptive.Window = 3
	}
}

func (c *Config) WithFlags(fs *pflag.FlagSet) *Config {
	fs.StringVarP(&configPath, "conf", "c", "", "Set custom configuration file path")
	fs.BoolVar(&c.Client.Debug, "debug", c.Client.Debug, "Enable debug logging")
	fs.StringVar(&c.Client.Username, "username", c.Client.Username, "Display name in the room")
	fs.StringVar(&c.Signal.Address, "signal", c.Signal.Address, "Signaling relay address")
	fs.StringVar(&c.Signal.Token, "token", c.Signal.Token, "Signaling bearer token")
	fs.IntVar(&c.Monitoring.Port, "monitoring.port", c.Monitoring.Port, "Monitoring server port")
	return c
}

// AddIceServersEnv merges numbered VXM_WEBRTC_ICESERVERS_N_* env
// variables over the configured list.
func (c *Webrtc) AddIceServersEnv() {
	cfg := Webrtc{IceServers: []IceServer{{}, {}, {}, {}, {}}}
	_ = LoadConfigEnv(&cfg)
	for i, ice := range cfg.IceServers {
		if ice.Urls == "" {
			continue
		}
		if strings.HasPrefix(ice.Urls, "turn:") || strings.HasPrefix(ice.Urls, "turns:") {
			if ice.Username == "" || ice.Credential == "" {
				log.Fatalf("TURN or TURNS servers should have both username and credential: %+v", ice)
			}
		}
		if i > len(c.IceServers)-1 {
			c.IceServers = append(c.IceServers, ice)
		} else {
			c.IceServers[i] = ice
		}
	}
}

func (c *Webrtc) HasPortRange() bool  { return c.IcePorts.Min > 0 && c.IcePorts.Max > 0 }
func (c *Webrtc) HasSinglePort() bool { return c.SinglePort > 0 }
func (c *Webrtc) HasIceIpMap() bool   { return c.IceIpMap != "" }
