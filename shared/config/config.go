// Package config is the TOML configuration shared by every binary. Each
// binary reads the sections it needs; all sections are always present after
// Load.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	vo "ikedadada/go-onion/shared/domain/value_object"
	"ikedadada/go-onion/shared/infrastructure/retry"
)

// SessionTTLEnv overrides Relay.SessionTTL when set to a positive number of
// seconds.
const SessionTTLEnv = "ONION_SESSION_TTL_SECONDS"

const (
	defaultLogLevel         = "NOTICE"
	defaultDirectoryAddress = "127.0.0.1:9000"
	defaultRelayAddress     = "127.0.0.1:6001"
	defaultDestination      = "127.0.0.1:9100"
	defaultTerminus         = "127.0.0.1:0"
	defaultPathLength       = 3
	defaultKeyBits          = 2048
	minKeyBits              = 1024
	defaultPingInterval     = 10 * time.Second
	defaultPingConcurrency  = 16
	defaultSessionTTL       = 10 * time.Minute
	defaultSessionCapacity  = 4096
	defaultHopTimeout       = 15 * time.Second
	defaultPingTimeout      = 2 * time.Second
	defaultClientWait       = 30 * time.Second
	defaultDirectoryTimeout = 5 * time.Second
	defaultHopMargin        = 2 * time.Second
	defaultMaxBudget        = 2 * time.Minute
)

type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

type Directory struct {
	// Address is where the directory HTTP API listens.
	Address string

	// URL is the base URL relays and clients use to reach the directory.
	// Defaults to http://Address.
	URL string

	// PingInterval is the period of the liveness sweep.
	PingInterval time.Duration

	// PingConcurrency bounds how many relays one sweep probes at once.
	PingConcurrency int
}

func (dCfg *Directory) applyDefaults() {
	if dCfg.Address == "" {
		dCfg.Address = defaultDirectoryAddress
	}
	if dCfg.URL == "" {
		dCfg.URL = "http://" + dCfg.Address
	}
	if dCfg.PingInterval == 0 {
		dCfg.PingInterval = defaultPingInterval
	}
	if dCfg.PingConcurrency == 0 {
		dCfg.PingConcurrency = defaultPingConcurrency
	}
}

func (dCfg *Directory) validate() error {
	if err := validListenAddr(dCfg.Address); err != nil {
		return fmt.Errorf("config: Directory: Address '%v' is invalid: %v", dCfg.Address, err)
	}
	if !strings.HasPrefix(dCfg.URL, "http://") && !strings.HasPrefix(dCfg.URL, "https://") {
		return fmt.Errorf("config: Directory: URL '%v' is not an http(s) URL", dCfg.URL)
	}
	if dCfg.PingInterval < 0 || dCfg.PingConcurrency < 0 {
		return errors.New("config: Directory: negative ping settings")
	}
	return nil
}

type Relay struct {
	// Address is the relay's listen and advertised address.
	Address string

	// Identity keys the persisted keypair. Defaults to Address.
	Identity string

	// KeyFile is a PEM private key (PKCS#8 or PKCS#1). It takes precedence
	// over KeyStore.
	KeyFile string

	// KeyStore is the bbolt file holding relay keypairs. Empty means an
	// ephemeral key per process.
	KeyStore string

	// KeyBits is the RSA modulus size for a newly generated keypair.
	KeyBits int

	SessionTTL      time.Duration
	SessionCapacity int

	RegisterAttempts  int
	RegisterBaseDelay time.Duration
	RegisterMaxDelay  time.Duration
	RegisterJitter    float64
}

func (rCfg *Relay) applyDefaults() {
	if rCfg.Address == "" {
		rCfg.Address = defaultRelayAddress
	}
	if rCfg.Identity == "" {
		rCfg.Identity = rCfg.Address
	}
	if rCfg.KeyBits == 0 {
		rCfg.KeyBits = defaultKeyBits
	}
	if rCfg.SessionTTL == 0 {
		rCfg.SessionTTL = defaultSessionTTL
	}
	if v := os.Getenv(SessionTTLEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rCfg.SessionTTL = time.Duration(n) * time.Second
		}
	}
	if rCfg.SessionCapacity == 0 {
		rCfg.SessionCapacity = defaultSessionCapacity
	}
	if rCfg.RegisterAttempts == 0 {
		rCfg.RegisterAttempts = retry.DefaultMaxAttempts
	}
	if rCfg.RegisterBaseDelay == 0 {
		rCfg.RegisterBaseDelay = retry.DefaultBaseDelay
	}
	if rCfg.RegisterMaxDelay == 0 {
		rCfg.RegisterMaxDelay = retry.DefaultMaxDelay
	}
	if rCfg.RegisterJitter == 0 {
		rCfg.RegisterJitter = retry.DefaultJitter
	}
}

func (rCfg *Relay) validate() error {
	if err := validListenAddr(rCfg.Address); err != nil {
		return fmt.Errorf("config: Relay: Address '%v' is invalid: %v", rCfg.Address, err)
	}
	if rCfg.KeyBits < minKeyBits {
		return fmt.Errorf("config: Relay: KeyBits %d is below %d", rCfg.KeyBits, minKeyBits)
	}
	if rCfg.SessionTTL < 0 || rCfg.SessionCapacity < 0 {
		return errors.New("config: Relay: negative session bounds")
	}
	if rCfg.RegisterJitter < 0 || rCfg.RegisterJitter > 1 {
		return fmt.Errorf("config: Relay: RegisterJitter %v is out of range", rCfg.RegisterJitter)
	}
	return nil
}

// RegisterPolicy is the backoff used while registering with the directory.
func (rCfg *Relay) RegisterPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: rCfg.RegisterAttempts,
		BaseDelay:   rCfg.RegisterBaseDelay,
		MaxDelay:    rCfg.RegisterMaxDelay,
		Jitter:      rCfg.RegisterJitter,
	}
}

type Client struct {
	// PathLength is the number of relays per circuit.
	PathLength int

	// Style is "sync" or "async".
	Style string

	// TerminusAddress is where the async terminus listens.
	TerminusAddress string
}

func (cCfg *Client) applyDefaults() {
	if cCfg.PathLength == 0 {
		cCfg.PathLength = defaultPathLength
	}
	if cCfg.Style == "" {
		cCfg.Style = string(vo.StyleSync)
	}
	if cCfg.TerminusAddress == "" {
		cCfg.TerminusAddress = defaultTerminus
	}
}

func (cCfg *Client) validate() error {
	if cCfg.PathLength < 1 {
		return fmt.Errorf("config: Client: PathLength %d is invalid", cCfg.PathLength)
	}
	if _, err := vo.ParseRoutingStyle(cCfg.Style); err != nil {
		return fmt.Errorf("config: Client: %v", err)
	}
	if err := validListenAddr(cCfg.TerminusAddress); err != nil {
		return fmt.Errorf("config: Client: TerminusAddress '%v' is invalid: %v", cCfg.TerminusAddress, err)
	}
	return nil
}

// RoutingStyle returns the parsed Style.
func (cCfg *Client) RoutingStyle() vo.RoutingStyle {
	s, _ := vo.ParseRoutingStyle(cCfg.Style)
	return s
}

type Destination struct {
	// Address is where the echo destination listens.
	Address string

	// HTTPAddress optionally serves the same echo over HTTP, as a target
	// for fetches at the exit relay. Empty disables it.
	HTTPAddress string
}

type Timeouts struct {
	// Hop is the exit relay's budget for the destination. Each earlier hop
	// waits HopMargin longer than the hop after it.
	Hop       time.Duration
	HopMargin time.Duration

	// MaxBudget caps the per-layer budget a relay accepts from a client.
	MaxBudget time.Duration

	Ping          time.Duration
	ClientWait    time.Duration
	DirectoryCall time.Duration
}

func (tCfg *Timeouts) applyDefaults() {
	if tCfg.Hop == 0 {
		tCfg.Hop = defaultHopTimeout
	}
	if tCfg.HopMargin == 0 {
		tCfg.HopMargin = defaultHopMargin
	}
	if tCfg.MaxBudget == 0 {
		tCfg.MaxBudget = max(defaultMaxBudget, tCfg.Hop)
	}
	if tCfg.Ping == 0 {
		tCfg.Ping = defaultPingTimeout
	}
	if tCfg.ClientWait == 0 {
		tCfg.ClientWait = defaultClientWait
	}
	if tCfg.DirectoryCall == 0 {
		tCfg.DirectoryCall = defaultDirectoryTimeout
	}
}

func (tCfg *Timeouts) validate() error {
	if tCfg.Hop < 0 || tCfg.HopMargin < 0 || tCfg.Ping < 0 || tCfg.ClientWait < 0 || tCfg.DirectoryCall < 0 {
		return errors.New("config: Timeouts: negative timeout")
	}
	if tCfg.MaxBudget < tCfg.Hop {
		return fmt.Errorf("config: Timeouts: MaxBudget %v is below Hop %v", tCfg.MaxBudget, tCfg.Hop)
	}
	return nil
}

// validListenAddr accepts "host:port" where port 0 asks the kernel for one.
func validListenAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("empty host")
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("bad port %q", port)
	}
	return nil
}

// Config is the top level configuration.
type Config struct {
	Logging     *Logging
	Directory   *Directory
	Relay       *Relay
	Client      *Client
	Destination *Destination
	Timeouts    *Timeouts
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration sections.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Logging == nil {
		cfg.Logging = &Logging{}
	}
	if cfg.Directory == nil {
		cfg.Directory = &Directory{}
	}
	if cfg.Relay == nil {
		cfg.Relay = &Relay{}
	}
	if cfg.Client == nil {
		cfg.Client = &Client{}
	}
	if cfg.Destination == nil {
		cfg.Destination = &Destination{}
	}
	if cfg.Timeouts == nil {
		cfg.Timeouts = &Timeouts{}
	}

	cfg.Directory.applyDefaults()
	cfg.Relay.applyDefaults()
	cfg.Client.applyDefaults()
	cfg.Timeouts.applyDefaults()
	if cfg.Destination.Address == "" {
		cfg.Destination.Address = defaultDestination
	}

	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	if err := cfg.Directory.validate(); err != nil {
		return err
	}
	if err := cfg.Relay.validate(); err != nil {
		return err
	}
	if err := cfg.Client.validate(); err != nil {
		return err
	}
	if err := validListenAddr(cfg.Destination.Address); err != nil {
		return fmt.Errorf("config: Destination: Address '%v' is invalid: %v", cfg.Destination.Address, err)
	}
	if a := cfg.Destination.HTTPAddress; a != "" {
		if err := validListenAddr(a); err != nil {
			return fmt.Errorf("config: Destination: HTTPAddress '%v' is invalid: %v", a, err)
		}
	}
	return cfg.Timeouts.validate()
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic("config: defaults do not validate: " + err.Error())
	}
	return cfg
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
