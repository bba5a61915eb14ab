package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Options holds every setting of the check-in client.
type Options struct {
	DataDir        string        `yaml:"data_dir"`
	DBPath         string        `yaml:"db_path"`
	SlotName       string        `yaml:"slot_name"`
	ServerURL      string        `yaml:"server_url"`
	MaxRetry       int           `yaml:"max_retry"`
	MaxQueueSize   int           `yaml:"max_queue_size"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	LogFile        string        `yaml:"log_file"`
	LogLevel       string        `yaml:"log_level"`
	SessionPath    string        `yaml:"session_path"`
	SysInfoPath    string        `yaml:"sysinfo_path"`
	Secret         string        `yaml:"-"`
	EncryptQueue   bool          `yaml:"encrypt_queue"`
	Verbose        bool          `yaml:"-"`
}

// Default returns the built-in settings.
func Default() *Options {
	return &Options{
		DataDir:        defaultDataDir(),
		SlotName:       "offline_queue",
		ServerURL:      "http://localhost:4000/graphql",
		MaxRetry:       3,
		DebounceWindow: time.Second,
		ProbeInterval:  15 * time.Second,
		CallTimeout:    10 * time.Second,
		LogLevel:       "info",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".checkin"
	}
	return filepath.Join(home, ".checkin")
}

// LoadFile overlays settings from a YAML file. Keys absent from the file
// keep their current values.
func (o *Options) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, o); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides settings with the corresponding environment variables when present.
func (o *Options) ApplyEnv() {
	if v, ok := os.LookupEnv("CHECKIN_DATA_DIR"); ok {
		o.DataDir = v
	}
	if v, ok := os.LookupEnv("CHECKIN_DB_PATH"); ok {
		o.DBPath = v
	}
	if v, ok := os.LookupEnv("CHECKIN_SERVER_URL"); ok {
		o.ServerURL = v
	}
	if v, ok := os.LookupEnv("CHECKIN_MAX_RETRY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			o.MaxRetry = n
		}
	}
	if v, ok := os.LookupEnv("CHECKIN_MAX_QUEUE_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			o.MaxQueueSize = n
		}
	}
	if v, ok := os.LookupEnv("CHECKIN_DEBOUNCE_WINDOW"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			o.DebounceWindow = d
		}
	}
	if v, ok := os.LookupEnv("CHECKIN_PROBE_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			o.ProbeInterval = d
		}
	}
	if v, ok := os.LookupEnv("CHECKIN_CALL_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			o.CallTimeout = d
		}
	}
	if v, ok := os.LookupEnv("CHECKIN_LOG_LEVEL"); ok {
		o.LogLevel = v
	}
	if v, ok := os.LookupEnv("CHECKIN_SECRET"); ok {
		o.Secret = v
	}
	if v, ok := os.LookupEnv("CHECKIN_ENCRYPT_QUEUE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			o.EncryptQueue = b
		}
	}
}

// Flags collects command-line values. Only flags the user actually set
// override the file and environment layers.
type Flags struct {
	ConfigFile string
	values     Options
	fs         *pflag.FlagSet
}

// BindFlags registers the global flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs}
	fs.StringVar(&f.ConfigFile, "config", "", "path to a YAML config file")
	fs.StringVar(&f.values.DataDir, "data-dir", d.DataDir, "directory for the local database, session and logs")
	fs.StringVar(&f.values.ServerURL, "server", d.ServerURL, "GraphQL endpoint of the check-in service")
	fs.IntVar(&f.values.MaxRetry, "max-retry", d.MaxRetry, "attempts before a queued operation is abandoned")
	fs.IntVar(&f.values.MaxQueueSize, "max-queue-size", d.MaxQueueSize, "queue bound, 0 for unbounded")
	fs.DurationVar(&f.values.CallTimeout, "call-timeout", d.CallTimeout, "timeout for a single remote call")
	fs.StringVar(&f.values.LogLevel, "log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVarP(&f.values.Verbose, "verbose", "v", false, "log to stderr")
	return f
}

// Resolve builds the effective options: defaults, config file, environment, flags.
func (f *Flags) Resolve() (*Options, error) {
	o := Default()
	if f.ConfigFile != "" {
		if err := o.LoadFile(f.ConfigFile); err != nil {
			return nil, err
		}
	}
	o.ApplyEnv()

	if f.changed("data-dir") {
		o.DataDir = f.values.DataDir
	}
	if f.changed("server") {
		o.ServerURL = f.values.ServerURL
	}
	if f.changed("max-retry") {
		o.MaxRetry = f.values.MaxRetry
	}
	if f.changed("max-queue-size") {
		o.MaxQueueSize = f.values.MaxQueueSize
	}
	if f.changed("call-timeout") {
		o.CallTimeout = f.values.CallTimeout
	}
	if f.changed("log-level") {
		o.LogLevel = f.values.LogLevel
	}
	o.Verbose = f.values.Verbose

	o.fillPaths()
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (f *Flags) changed(name string) bool {
	return f.fs != nil && f.fs.Changed(name)
}

func (o *Options) fillPaths() {
	if o.DBPath == "" {
		o.DBPath = filepath.Join(o.DataDir, "checkin.db")
	}
	if o.LogFile == "" {
		o.LogFile = filepath.Join(o.DataDir, "checkin.log")
	}
	if o.SessionPath == "" {
		o.SessionPath = filepath.Join(o.DataDir, "session.dat")
	}
	if o.SysInfoPath == "" {
		o.SysInfoPath = filepath.Join(o.DataDir, "syncinfo.json")
	}
}

// Validate rejects settings the queue and engine cannot run with.
func (o *Options) Validate() error {
	var errs []error
	if o.MaxRetry < 1 {
		errs = append(errs, fmt.Errorf("max_retry must be at least 1, got %d", o.MaxRetry))
	}
	if o.MaxQueueSize < 0 {
		errs = append(errs, fmt.Errorf("max_queue_size must not be negative, got %d", o.MaxQueueSize))
	}
	if o.DebounceWindow < 0 {
		errs = append(errs, fmt.Errorf("debounce_window must not be negative, got %s", o.DebounceWindow))
	}
	if o.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("probe_interval must be positive, got %s", o.ProbeInterval))
	}
	if o.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call_timeout must be positive, got %s", o.CallTimeout))
	}
	if o.SlotName == "" {
		errs = append(errs, errors.New("slot_name must not be empty"))
	}
	if o.ServerURL == "" {
		errs = append(errs, errors.New("server_url must not be empty"))
	}
	if o.EncryptQueue && o.Secret == "" {
		errs = append(errs, errors.New("encrypt_queue requires CHECKIN_SECRET"))
	}
	return errors.Join(errs...)
}

// EnsureDataDir creates the data directory if it does not exist.
func (o *Options) EnsureDataDir() error {
	if err := os.MkdirAll(o.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir %s: %w", o.DataDir, err)
	}
	return nil
}
