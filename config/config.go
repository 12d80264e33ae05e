// SPDX-FileCopyrightText: 2025 The Wattline Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"

	"k8s.io/utils/ptr"
)

// Feature represents an optional feature identifier
type Feature string

const (
	// ExperimentalDCGMFeature represents the DCGM gpu power monitoring feature
	ExperimentalDCGMFeature Feature = "dcgm"

	// ExperimentalRedfishFeature represents the Redfish BMC power monitoring feature
	ExperimentalRedfishFeature Feature = "redfish"

	// PrometheusFeature represents the Prometheus exporter feature
	PrometheusFeature Feature = "prometheus"

	// StdoutFeature represents the stdout exporter feature
	StdoutFeature Feature = "stdout"

	// FakeSourceFeature represents the synthetic measurement source
	FakeSourceFeature Feature = "fake"

	// DumpFeature represents per-epoch report dump files
	DumpFeature Feature = "dump"
)

// Window policy names accepted by monitor.window
const (
	WindowEpoch     = "epoch"
	WindowTimeChunk = "time-chunk"
	WindowBatch     = "batch"
)

// Merge mode names accepted by monitor.merge
const (
	MergeEager    = "eager"
	MergeDeferred = "deferred"
)

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}
	Host struct {
		ProcFS string `yaml:"procfs"`
	}

	// Backend configures the embedded sampling service
	Backend struct {
		SamplePeriod    time.Duration `yaml:"samplePeriod"`    // Sample rate for open captures
		Signals         []string      `yaml:"signals"`         // Signals kept when reports are read back
		CarbonIntensity float64       `yaml:"carbonIntensity"` // Grid intensity in grams of CO2 per kWh
	}

	// Digest configures the per-epoch scalar digest written into the
	// caller's metrics map
	Digest struct {
		Enabled            *bool `yaml:"enabled"`
		IncludeNonPositive *bool `yaml:"includeNonPositive"`
	}

	Monitor struct {
		Window      string        `yaml:"window"`      // epoch, time-chunk or batch
		ChunkPeriod time.Duration `yaml:"chunkPeriod"` // Minimum wall-clock span of a time chunk
		Merge       string        `yaml:"merge"`       // eager or deferred accumulation
		Timestamps  *bool         `yaml:"timestamps"`  // Record the per-batch timeline
		Digest      Digest        `yaml:"digest"`
	}

	Output struct {
		Dir  string `yaml:"dir"`  // Dump directory; empty resolves to /tmp/wattline-<pid>
		Dump *bool  `yaml:"dump"` // Write report-<epoch>.json instead of retaining reports
	}

	// Fake configures the synthetic measurement source; tuning values are
	// config-file only
	Fake struct {
		Enabled    *bool   `yaml:"enabled"`
		Devices    []uint  `yaml:"devices"`
		PowerBase  float64 `yaml:"powerBase"`  // Base power consumption in watts
		PowerRange float64 `yaml:"powerRange"` // Power variation range in watts
		EnergyStep float64 `yaml:"energyStep"` // Energy increment per sample in joules
	}

	// Exporter configuration
	StdoutExporter struct {
		Enabled *bool `yaml:"enabled"`
	}

	PrometheusExporter struct {
		Enabled         *bool    `yaml:"enabled"`
		DebugCollectors []string `yaml:"debugCollectors"`
	}

	Exporter struct {
		Stdout     StdoutExporter     `yaml:"stdout"`
		Prometheus PrometheusExporter `yaml:"prometheus"`
	}

	Web struct {
		Config          string   `yaml:"configFile"`
		ListenAddresses []string `yaml:"listenAddresses"`
	}

	// DCGM contains settings for nvidia gpu power monitoring
	DCGM struct {
		Enabled *bool  `yaml:"enabled"`
		Devices []uint `yaml:"devices"` // GPU device IDs to monitor
		Mode    string `yaml:"mode"`    // "embedded" or "standalone" (default: "embedded")
		Address string `yaml:"address"` // Host engine address for standalone mode (e.g., "localhost:5555")
	}

	// Redfish contains settings for BMC platform power monitoring
	Redfish struct {
		Enabled  *bool  `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Insecure *bool  `yaml:"insecure"` // Skip TLS verification on the BMC endpoint
	}

	// Experimental contains experimental features (no stability guarantees)
	Experimental struct {
		DCGM    DCGM    `yaml:"dcgm"`
		Redfish Redfish `yaml:"redfish"`
	}

	Config struct {
		Log      Log      `yaml:"log"`
		Host     Host     `yaml:"host"`
		Backend  Backend  `yaml:"backend"`
		Monitor  Monitor  `yaml:"monitor"`
		Output   Output   `yaml:"output"`
		Fake     Fake     `yaml:"fake"`
		Exporter Exporter `yaml:"exporter"`
		Web      Web      `yaml:"web"`

		// NOTE: Experimental field is a pointer on purpose to
		// use omitempty to suppress printing (String) Experimental configuration
		// when it is empty
		Experimental *Experimental `yaml:"experimental,omitempty"`
	}
)

type SkipValidation int

const (
	SkipHostValidation         SkipValidation = 1
	SkipExperimentalValidation SkipValidation = 2
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	HostProcFSFlag = "host.procfs"

	BackendSamplePeriodFlag    = "backend.sample-period"
	BackendSignalsFlag         = "backend.signals"
	BackendCarbonIntensityFlag = "backend.carbon-intensity"

	MonitorWindowFlag      = "monitor.window"
	MonitorChunkPeriodFlag = "monitor.chunk-period"
	MonitorMergeFlag       = "monitor.merge"
	MonitorTimestampsFlag  = "monitor.timestamps"
	MonitorDigestFlag      = "monitor.digest"
	// NOTE: not a flag
	MonitorDigestNonPositive = "monitor.digest.include-non-positive"

	OutputDirFlag  = "output.dir"
	OutputDumpFlag = "output.dump"

	FakeEnabledFlag = "fake.enabled"

	WebConfigFlag        = "web.config-file"
	WebListenAddressFlag = "web.listen-address"

	// Exporters
	ExporterStdoutEnabledFlag = "exporter.stdout"

	ExporterPrometheusEnabledFlag = "exporter.prometheus"
	// NOTE: not a flag
	ExporterPrometheusDebugCollectors = "exporter.prometheus.debug-collectors"

	// Experimental DCGM power monitoring flags
	ExperimentalDCGMEnabledFlag = "experimental.dcgm.enabled"
	ExperimentalDCGMDevicesFlag = "experimental.dcgm.devices"
	ExperimentalDCGMModeFlag    = "experimental.dcgm.mode"
	ExperimentalDCGMAddrFlag    = "experimental.dcgm.address"

	// Experimental Redfish flags; username and password are config-file only
	ExperimentalRedfishEnabledFlag  = "experimental.redfish.enabled"
	ExperimentalRedfishEndpointFlag = "experimental.redfish.endpoint"
	ExperimentalRedfishInsecureFlag = "experimental.redfish.insecure"

// WARN: fake source tuning values shouldn't be exposed as flags as flags are intended for end users
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Host: Host{
			ProcFS: "/proc",
		},
		Backend: Backend{
			SamplePeriod:    10 * time.Millisecond,
			Signals:         []string{"nvml", "linux_process", "JOULES", "GRAMS_OF_CO2"},
			CarbonIntensity: 475.0, // global average grid intensity
		},
		Monitor: Monitor{
			Window:      WindowTimeChunk,
			ChunkPeriod: 2 * time.Second,
			Merge:       MergeEager,
			Timestamps:  ptr.To(true),
			Digest: Digest{
				Enabled:            ptr.To(true),
				IncludeNonPositive: ptr.To(false),
			},
		},
		Output: Output{
			Dump: ptr.To(false),
		},
		Exporter: Exporter{
			Stdout: StdoutExporter{
				Enabled: ptr.To(false),
			},
			Prometheus: PrometheusExporter{
				Enabled:         ptr.To(true),
				DebugCollectors: []string{"go"},
			},
		},
		Web: Web{
			ListenAddresses: []string{":28282"},
		},

		// NOTE: Experimental config will be nil by default and only allocated when needed
		// to avoid printing the configs if experimental features are disabled
		// see use of `omitempty`
	}

	cfg.Fake.Enabled = ptr.To(false)
	cfg.Fake.Devices = []uint{0}
	cfg.Fake.PowerBase = 100.0
	cfg.Fake.PowerRange = 50.0
	cfg.Fake.EnergyStep = 1000.0
	return cfg
}

// Load parses a single YAML document and layers it over the defaults
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	return FromFiles([]string{filePath})
}

// FromFiles loads and layers multiple YAML files; later files override
// earlier ones and the defaults fill whatever remains unset. Pointer fields
// distinguish an explicit false from an absent setting.
func FromFiles(filePaths []string) (*Config, error) {
	merged := &Config{}
	for _, filePath := range filePaths {
		cfg, err := parseFile(filePath)
		if err != nil {
			return nil, err
		}
		if err := mergo.Merge(merged, *cfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to layer config file %s: %w", filePath, err)
		}
	}

	if err := applyDefaults(merged); err != nil {
		return nil, err
	}
	merged.sanitize()

	if err := merged.Validate(); err != nil {
		return nil, err
	}

	return merged, nil
}

func parseFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}
	return cfg, nil
}

// applyDefaults fills unset fields from DefaultConfig
func applyDefaults(cfg *Config) error {
	if err := mergo.Merge(cfg, *DefaultConfig()); err != nil {
		return fmt.Errorf("failed to apply config defaults: %w", err)
	}
	return nil
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		// Clear the map in case this function is called multiple times
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")
	// host
	hostProcFS := app.Flag(HostProcFSFlag, "Host procfs path").Default("/proc").ExistingDir()

	// backend
	samplePeriod := app.Flag(BackendSamplePeriodFlag, "Backend sample rate while a session is open").Default("10ms").Duration()
	signals := app.Flag(BackendSignalsFlag, "Signal (source or unit name) kept when reports are read back; repeatable").Strings()
	carbonIntensity := app.Flag(BackendCarbonIntensityFlag, "Grid carbon intensity in gCO2/kWh for derived emissions").Default("475").Float64()

	// monitor
	window := app.Flag(MonitorWindowFlag, "Report windowing policy: epoch, time-chunk or batch").Default(WindowTimeChunk).Enum(WindowEpoch, WindowTimeChunk, WindowBatch)
	chunkPeriod := app.Flag(MonitorChunkPeriodFlag, "Minimum wall-clock span of a time chunk").Default("2s").Duration()
	merge := app.Flag(MonitorMergeFlag, "Window accumulation mode: eager or deferred").Default(MergeEager).Enum(MergeEager, MergeDeferred)
	timestamps := app.Flag(MonitorTimestampsFlag, "Record per-batch begin/end timestamps").Default("true").Bool()
	digest := app.Flag(MonitorDigestFlag, "Write per-epoch energy digests into the training metrics").Default("true").Bool()

	// output
	outputDir := app.Flag(OutputDirFlag, "Directory for per-epoch report dump files").Default("").String()
	outputDump := app.Flag(OutputDumpFlag, "Dump per-epoch reports to disk instead of retaining them").Default("false").Bool()

	fakeEnabled := app.Flag(FakeEnabledFlag, "Enable the synthetic measurement source").Default("false").Bool()

	webConfig := app.Flag(WebConfigFlag, "Web config file path").Default("").String()
	webListenAddresses := app.Flag(WebListenAddressFlag, "Web server listen addresses").Default(":28282").Strings()

	// exporters
	stdoutExporterEnabled := app.Flag(ExporterStdoutEnabledFlag, "Enable stdout exporter").Default("false").Bool()

	prometheusExporterEnabled := app.Flag(ExporterPrometheusEnabledFlag, "Enable Prometheus exporter").Default("true").Bool()

	// experimental DCGM
	dcgmEnabled := app.Flag(ExperimentalDCGMEnabledFlag, "Enable experimental DCGM gpu power monitoring").Default("false").Bool()
	dcgmDevices := app.Flag(ExperimentalDCGMDevicesFlag, "GPU device IDs to monitor (comma-separated)").String()
	dcgmMode := app.Flag(ExperimentalDCGMModeFlag, "DCGM connection mode (embedded or standalone)").Default("embedded").String()
	dcgmAddr := app.Flag(ExperimentalDCGMAddrFlag, "DCGM host engine address for standalone mode (e.g., localhost:5555)").String()

	// experimental Redfish
	redfishEnabled := app.Flag(ExperimentalRedfishEnabledFlag, "Enable experimental Redfish BMC power monitoring").Default("false").Bool()
	redfishEndpoint := app.Flag(ExperimentalRedfishEndpointFlag, "Redfish BMC endpoint URL").String()
	redfishInsecure := app.Flag(ExperimentalRedfishInsecureFlag, "Skip TLS verification on the BMC endpoint").Default("false").Bool()

	return func(cfg *Config) error {
		// Logging settings
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}

		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[HostProcFSFlag] {
			cfg.Host.ProcFS = *hostProcFS
		}

		// backend settings
		if flagsSet[BackendSamplePeriodFlag] {
			cfg.Backend.SamplePeriod = *samplePeriod
		}
		if flagsSet[BackendSignalsFlag] {
			cfg.Backend.Signals = *signals
		}
		if flagsSet[BackendCarbonIntensityFlag] {
			cfg.Backend.CarbonIntensity = *carbonIntensity
		}

		// monitor settings
		if flagsSet[MonitorWindowFlag] {
			cfg.Monitor.Window = *window
		}
		if flagsSet[MonitorChunkPeriodFlag] {
			cfg.Monitor.ChunkPeriod = *chunkPeriod
		}
		if flagsSet[MonitorMergeFlag] {
			cfg.Monitor.Merge = *merge
		}
		if flagsSet[MonitorTimestampsFlag] {
			cfg.Monitor.Timestamps = timestamps
		}
		if flagsSet[MonitorDigestFlag] {
			cfg.Monitor.Digest.Enabled = digest
		}

		if flagsSet[OutputDirFlag] {
			cfg.Output.Dir = *outputDir
		}
		if flagsSet[OutputDumpFlag] {
			cfg.Output.Dump = outputDump
		}

		if flagsSet[FakeEnabledFlag] {
			cfg.Fake.Enabled = fakeEnabled
		}

		if flagsSet[WebConfigFlag] {
			cfg.Web.Config = *webConfig
		}

		if flagsSet[WebListenAddressFlag] {
			cfg.Web.ListenAddresses = *webListenAddresses
		}

		if flagsSet[ExporterStdoutEnabledFlag] {
			cfg.Exporter.Stdout.Enabled = stdoutExporterEnabled
		}

		if flagsSet[ExporterPrometheusEnabledFlag] {
			cfg.Exporter.Prometheus.Enabled = prometheusExporterEnabled
		}

		// Apply experimental settings
		if err := applyDCGMConfig(cfg, flagsSet, dcgmEnabled, dcgmDevices, dcgmMode, dcgmAddr); err != nil {
			return err
		}
		applyRedfishConfig(cfg, flagsSet, redfishEnabled, redfishEndpoint, redfishInsecure)

		cfg.sanitize()
		return cfg.Validate()
	}
}

// applyDCGMConfig applies DCGM configuration flags
func applyDCGMConfig(cfg *Config, flagsSet map[string]bool, enabled *bool, devices *string, mode *string, addr *string) error {
	// Early exit if no DCGM flags are set and config file does not have experimental
	// section (i.e cfg.Experimental == nil)
	if !hasDCGMFlags(flagsSet) && cfg.Experimental == nil {
		return nil
	}

	// At this point, either DCGM flags are set or config file has experimental section
	// so ensure experimental section exists
	if cfg.Experimental == nil {
		cfg.Experimental = &Experimental{
			DCGM: defaultDCGMConfig(),
		}
	} else if cfg.Experimental.DCGM.Enabled == nil {
		// Initialize DCGM config if not present
		cfg.Experimental.DCGM = defaultDCGMConfig()
	}

	dcgm := &cfg.Experimental.DCGM

	// Apply flag values
	if flagsSet[ExperimentalDCGMEnabledFlag] {
		dcgm.Enabled = enabled
	}

	if flagsSet[ExperimentalDCGMDevicesFlag] && *devices != "" {
		// Parse comma-separated device IDs
		deviceStrs := strings.Split(*devices, ",")
		parsed := make([]uint, 0, len(deviceStrs))
		for _, devStr := range deviceStrs {
			devID, err := strconv.ParseUint(strings.TrimSpace(devStr), 10, 32)
			if err != nil {
				return fmt.Errorf("invalid GPU device ID %q: %w", devStr, err)
			}
			parsed = append(parsed, uint(devID))
		}
		dcgm.Devices = parsed
	}

	if flagsSet[ExperimentalDCGMModeFlag] {
		dcgm.Mode = *mode
	}

	if flagsSet[ExperimentalDCGMAddrFlag] {
		dcgm.Address = *addr
	}

	return nil
}

// hasDCGMFlags returns true if any DCGM experimental flags are set
func hasDCGMFlags(flagsSet map[string]bool) bool {
	return flagsSet[ExperimentalDCGMEnabledFlag] ||
		flagsSet[ExperimentalDCGMDevicesFlag] ||
		flagsSet[ExperimentalDCGMModeFlag] ||
		flagsSet[ExperimentalDCGMAddrFlag]
}

// defaultDCGMConfig returns default DCGM configuration
func defaultDCGMConfig() DCGM {
	return DCGM{
		Enabled: ptr.To(false),
		Devices: []uint{0}, // Default to GPU 0
		Mode:    "embedded",
		Address: "", // Empty means use default (localhost:5555 for standalone)
	}
}

// applyRedfishConfig applies Redfish configuration flags
func applyRedfishConfig(cfg *Config, flagsSet map[string]bool, enabled *bool, endpoint *string, insecure *bool) {
	// Early exit if no redfish flags are set and config file does not have
	// experimental section
	if !hasRedfishFlags(flagsSet) && cfg.Experimental == nil {
		return
	}

	// Ensure experimental section exists
	if cfg.Experimental == nil {
		cfg.Experimental = &Experimental{
			Redfish: defaultRedfishConfig(),
		}
	} else if cfg.Experimental.Redfish.Enabled == nil {
		// Initialize Redfish config if not present
		cfg.Experimental.Redfish = defaultRedfishConfig()
	}

	redfish := &cfg.Experimental.Redfish

	// Apply flag values
	if flagsSet[ExperimentalRedfishEnabledFlag] {
		redfish.Enabled = enabled
	}

	if flagsSet[ExperimentalRedfishEndpointFlag] {
		redfish.Endpoint = *endpoint
	}

	if flagsSet[ExperimentalRedfishInsecureFlag] {
		redfish.Insecure = insecure
	}
}

// hasRedfishFlags returns true if any Redfish experimental flags are set
func hasRedfishFlags(flagsSet map[string]bool) bool {
	return flagsSet[ExperimentalRedfishEnabledFlag] ||
		flagsSet[ExperimentalRedfishEndpointFlag] ||
		flagsSet[ExperimentalRedfishInsecureFlag]
}

func defaultRedfishConfig() Redfish {
	return Redfish{
		Enabled:  ptr.To(false),
		Insecure: ptr.To(false),
	}
}

// IsFeatureEnabled returns true if the specified feature is enabled
func (c *Config) IsFeatureEnabled(feature Feature) bool {
	switch feature {
	case ExperimentalDCGMFeature:
		if c.Experimental == nil {
			return false
		}
		return ptr.Deref(c.Experimental.DCGM.Enabled, false)
	case ExperimentalRedfishFeature:
		if c.Experimental == nil {
			return false
		}
		return ptr.Deref(c.Experimental.Redfish.Enabled, false)
	case PrometheusFeature:
		return ptr.Deref(c.Exporter.Prometheus.Enabled, false)
	case StdoutFeature:
		return ptr.Deref(c.Exporter.Stdout.Enabled, false)
	case FakeSourceFeature:
		return ptr.Deref(c.Fake.Enabled, false)
	case DumpFeature:
		return ptr.Deref(c.Output.Dump, false)
	default:
		return false
	}
}

// experimentalFeatureEnabled returns true if any experimental feature is enabled
func (c *Config) experimentalFeatureEnabled() bool {
	if c.Experimental == nil {
		return false
	}

	// Check if DCGM is enabled
	if ptr.Deref(c.Experimental.DCGM.Enabled, false) {
		return true
	}

	// Check if Redfish is enabled
	if ptr.Deref(c.Experimental.Redfish.Enabled, false) {
		return true
	}

	// Add checks for future experimental features here

	return false
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Host.ProcFS = strings.TrimSpace(c.Host.ProcFS)
	c.Monitor.Window = strings.TrimSpace(c.Monitor.Window)
	c.Monitor.Merge = strings.TrimSpace(c.Monitor.Merge)
	c.Output.Dir = strings.TrimSpace(c.Output.Dir)
	c.Web.Config = strings.TrimSpace(c.Web.Config)
	for i := range c.Web.ListenAddresses {
		c.Web.ListenAddresses[i] = strings.TrimSpace(c.Web.ListenAddresses[i])
	}

	for i := range c.Backend.Signals {
		c.Backend.Signals[i] = strings.TrimSpace(c.Backend.Signals[i])
	}

	for i := range c.Exporter.Prometheus.DebugCollectors {
		c.Exporter.Prometheus.DebugCollectors[i] = strings.TrimSpace(c.Exporter.Prometheus.DebugCollectors[i])
	}

	if c.Experimental == nil {
		return
	}

	c.Experimental.DCGM.Mode = strings.TrimSpace(c.Experimental.DCGM.Mode)
	c.Experimental.DCGM.Address = strings.TrimSpace(c.Experimental.DCGM.Address)
	c.Experimental.Redfish.Endpoint = strings.TrimSpace(c.Experimental.Redfish.Endpoint)
	c.Experimental.Redfish.Username = strings.TrimSpace(c.Experimental.Redfish.Username)

	// If all experimental features are disabled, set experimental to nil to hide it
	if !c.experimentalFeatureEnabled() {
		c.Experimental = nil
	}
}

// Validate checks for configuration errors
func (c *Config) Validate(skips ...SkipValidation) error {
	validationSkipped := make(map[SkipValidation]bool, len(skips))
	for _, v := range skips {
		validationSkipped[v] = true
	}
	var errs []string
	{ // log level

		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}

		// Validate logging settings
		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}

	{ // Validate host settings
		if _, skip := validationSkipped[SkipHostValidation]; !skip {
			if err := canReadDir(c.Host.ProcFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid procfs path: %s: %s ", c.Host.ProcFS, err.Error()))
			}
		}
	}
	{ // Backend
		if c.Backend.SamplePeriod <= 0 {
			errs = append(errs, fmt.Sprintf("invalid backend sample period: %s must be positive", c.Backend.SamplePeriod))
		}
		if c.Backend.CarbonIntensity < 0 {
			errs = append(errs, fmt.Sprintf("invalid backend carbon intensity: %f can't be negative", c.Backend.CarbonIntensity))
		}
	}
	{ // Monitor
		validWindows := map[string]bool{
			WindowEpoch:     true,
			WindowTimeChunk: true,
			WindowBatch:     true,
		}
		if _, valid := validWindows[c.Monitor.Window]; !valid {
			errs = append(errs, fmt.Sprintf("invalid monitor window policy: %s", c.Monitor.Window))
		}

		validMerges := map[string]bool{
			MergeEager:    true,
			MergeDeferred: true,
		}
		if _, valid := validMerges[c.Monitor.Merge]; !valid {
			errs = append(errs, fmt.Sprintf("invalid monitor merge mode: %s", c.Monitor.Merge))
		}

		if c.Monitor.ChunkPeriod <= 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor chunk period: %s must be positive", c.Monitor.ChunkPeriod))
		}
	}
	{ // Web config file
		if c.Web.Config != "" {
			if err := canReadFile(c.Web.Config); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web config file. path: %q: %s", c.Web.Config, err.Error()))
			}
		}
	}
	{ // Web listen addresses
		if len(c.Web.ListenAddresses) == 0 {
			errs = append(errs, "at least one web listen address must be specified")
		}
		for _, addr := range c.Web.ListenAddresses {
			if addr == "" {
				errs = append(errs, "web listen address cannot be empty")
				continue
			}
			if err := validateListenAddress(addr); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web listen address %q: %s", addr, err.Error()))
			}
		}
	}
	// Experimental validation
	if experimentalErrs := c.validateExperimentalConfig(validationSkipped); len(experimentalErrs) > 0 {
		errs = append(errs, experimentalErrs...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

// validateExperimentalConfig validates experimental configuration settings
func (c *Config) validateExperimentalConfig(validationSkipped map[SkipValidation]bool) []string {
	if !c.experimentalFeatureEnabled() || validationSkipped[SkipExperimentalValidation] {
		return nil
	}

	var errs []string

	{ // Validate experimental settings
		if c.IsFeatureEnabled(ExperimentalDCGMFeature) {
			// Validate device IDs (should have at least one)
			if len(c.Experimental.DCGM.Devices) == 0 {
				errs = append(errs, "at least one GPU device ID must be specified")
			}

			mode := c.Experimental.DCGM.Mode
			if mode != "" && mode != "embedded" && mode != "standalone" {
				errs = append(errs, fmt.Sprintf("invalid DCGM mode %q: must be 'embedded' or 'standalone'", mode))
			}

			// Standalone mode requires an address
			if mode == "standalone" && c.Experimental.DCGM.Address == "" {
				errs = append(errs, "DCGM address is required when using standalone mode")
			}
		}

		if c.IsFeatureEnabled(ExperimentalRedfishFeature) {
			if c.Experimental.Redfish.Endpoint == "" {
				errs = append(errs, fmt.Sprintf("%s not supplied but %s set to true", ExperimentalRedfishEndpointFlag, ExperimentalRedfishEnabledFlag))
			} else if !strings.HasPrefix(c.Experimental.Redfish.Endpoint, "http://") &&
				!strings.HasPrefix(c.Experimental.Redfish.Endpoint, "https://") {
				errs = append(errs, fmt.Sprintf("invalid Redfish endpoint %q: must be an http(s) URL", c.Experimental.Redfish.Endpoint))
			}
		}
	}

	return errs
}

func canReadDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	_, err = f.ReadDir(1)
	if err != nil {
		return err
	}

	return nil
}

func canReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()
	buf := make([]byte, 8)
	_, err = f.Read(buf)
	if err != nil {
		return err
	}

	return nil
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	// Use Go's standard library to parse host:port
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}

	// Validate port (host can be empty for listening on all interfaces)
	if err := validatePort(port); err != nil {
		return err
	}

	return nil
}

func validatePort(port string) error {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric, got %s", port)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", portNum)
	}
	return nil
}

func (c *Config) String() string {
	// BMC credentials must never reach logs
	redacted := *c
	if c.Experimental != nil {
		exp := *c.Experimental
		if exp.Redfish.Password != "" {
			exp.Redfish.Password = "***"
		}
		redacted.Experimental = &exp
	}

	bytes, err := yaml.Marshal(&redacted)
	if err == nil {
		return string(bytes)
	}
	// NOTE:  this code path should not happen but if it does (i.e if yaml marshal) fails
	// for some reason, manually build the string
	return redacted.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{HostProcFSFlag, c.Host.ProcFS},
		{BackendSamplePeriodFlag, c.Backend.SamplePeriod.String()},
		{BackendSignalsFlag, strings.Join(c.Backend.Signals, ", ")},
		{BackendCarbonIntensityFlag, fmt.Sprintf("%g", c.Backend.CarbonIntensity)},
		{MonitorWindowFlag, c.Monitor.Window},
		{MonitorChunkPeriodFlag, c.Monitor.ChunkPeriod.String()},
		{MonitorMergeFlag, c.Monitor.Merge},
		{MonitorTimestampsFlag, fmt.Sprintf("%v", c.Monitor.Timestamps)},
		{MonitorDigestFlag, fmt.Sprintf("%v", c.Monitor.Digest.Enabled)},
		{OutputDirFlag, c.Output.Dir},
		{OutputDumpFlag, fmt.Sprintf("%v", c.Output.Dump)},
		{FakeEnabledFlag, fmt.Sprintf("%v", c.Fake.Enabled)},
		{ExporterStdoutEnabledFlag, fmt.Sprintf("%v", c.Exporter.Stdout.Enabled)},
		{ExporterPrometheusEnabledFlag, fmt.Sprintf("%v", c.Exporter.Prometheus.Enabled)},
		{ExporterPrometheusDebugCollectors, strings.Join(c.Exporter.Prometheus.DebugCollectors, ", ")},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}
