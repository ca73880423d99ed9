package config

import (
	"strings"
	"time"

	"github.com/RuiFG/streaming-merge/log"
	"github.com/RuiFG/streaming-merge/watermark"
	"github.com/RuiFG/streaming-merge/window"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "STREAMING_MERGE"

type Application struct {
	Debug bool `mapstructure:"debug"`
	Log   Log  `mapstructure:"log"`
	//CheckpointsDir empty keeps checkpoints in memory
	CheckpointsDir      string        `mapstructure:"checkpoints_dir"`
	CheckpointInterval  time.Duration `mapstructure:"checkpoint_interval"`
	RetainedCheckpoints int           `mapstructure:"retained_checkpoints"`
	MergedCheckpoints   int           `mapstructure:"merged_checkpoints"`
	NodeID              int64         `mapstructure:"node_id"`
	//MetricsAddress empty disables the /metrics endpoint
	MetricsAddress string `mapstructure:"metrics_address"`
	Merge          Merge  `mapstructure:"merge"`
	Input1         Input  `mapstructure:"input1"`
	Input2         Input  `mapstructure:"input2"`
	Output         Output `mapstructure:"output"`
}

type Log struct {
	Level   string `mapstructure:"level"`
	Encoder string `mapstructure:"encoder"`
}

type Merge struct {
	Name string `mapstructure:"name"`
	//Accumulation is one of sum, count, cogroup
	Accumulation           string        `mapstructure:"accumulation"`
	Window                 Window        `mapstructure:"window"`
	AllowedLateness        time.Duration `mapstructure:"allowed_lateness"`
	LatenessPolicy         string        `mapstructure:"lateness_policy"`
	Trigger                Trigger       `mapstructure:"trigger"`
	ProcessingTimeInterval time.Duration `mapstructure:"processing_time_interval"`
}

type Window struct {
	//Type is one of tumbling, sliding, session, global
	Type   string        `mapstructure:"type"`
	Size   time.Duration `mapstructure:"size"`
	Slide  time.Duration `mapstructure:"slide"`
	Offset time.Duration `mapstructure:"offset"`
	Gap    time.Duration `mapstructure:"gap"`
}

type Trigger struct {
	OnTime            bool          `mapstructure:"on_time"`
	EarlyFiringCount  int           `mapstructure:"early_firing_count"`
	EarlyFiringPeriod time.Duration `mapstructure:"early_firing_period"`
	LateFiringCount   int           `mapstructure:"late_firing_count"`
	//Mode is accumulating or discarding
	Mode string `mapstructure:"mode"`
}

type Input struct {
	//Type is file or kafka
	Type  string `mapstructure:"type"`
	File  File   `mapstructure:"file"`
	Kafka Kafka  `mapstructure:"kafka"`
	//OutOfOrderness > 0 derives implicit watermarks from event timestamps
	OutOfOrderness    time.Duration `mapstructure:"out_of_orderness"`
	WatermarkInterval time.Duration `mapstructure:"watermark_interval"`
}

type File struct {
	Path   string `mapstructure:"path"`
	Follow bool   `mapstructure:"follow"`
}

type Kafka struct {
	Addresses []string `mapstructure:"addresses"`
	Topic     string   `mapstructure:"topic"`
	Partition int32    `mapstructure:"partition"`
	//Start is oldest or newest, used when no offset was restored
	Start string `mapstructure:"start"`
}

type Output struct {
	Watermarks bool `mapstructure:"watermarks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoder", "console")
	v.SetDefault("checkpoints_dir", "")
	v.SetDefault("checkpoint_interval", time.Minute)
	v.SetDefault("retained_checkpoints", 2)
	v.SetDefault("merged_checkpoints", 10)
	v.SetDefault("node_id", 1)
	v.SetDefault("metrics_address", "")
	v.SetDefault("merge.name", "merge")
	v.SetDefault("merge.accumulation", "sum")
	v.SetDefault("merge.window.type", "tumbling")
	v.SetDefault("merge.window.size", time.Minute)
	v.SetDefault("merge.window.slide", time.Duration(0))
	v.SetDefault("merge.window.offset", time.Duration(0))
	v.SetDefault("merge.window.gap", time.Duration(0))
	v.SetDefault("merge.allowed_lateness", time.Duration(0))
	v.SetDefault("merge.lateness_policy", "per_stream")
	v.SetDefault("merge.trigger.on_time", true)
	v.SetDefault("merge.trigger.early_firing_count", 0)
	v.SetDefault("merge.trigger.early_firing_period", time.Duration(0))
	v.SetDefault("merge.trigger.late_firing_count", 0)
	v.SetDefault("merge.trigger.mode", "accumulating")
	v.SetDefault("merge.processing_time_interval", time.Second)
	for _, input := range []string{"input1", "input2"} {
		v.SetDefault(input+".type", "file")
		v.SetDefault(input+".file.path", "")
		v.SetDefault(input+".file.follow", false)
		v.SetDefault(input+".kafka.addresses", []string{})
		v.SetDefault(input+".kafka.topic", "")
		v.SetDefault(input+".kafka.partition", 0)
		v.SetDefault(input+".kafka.start", "oldest")
		v.SetDefault(input+".out_of_orderness", time.Duration(0))
		v.SetDefault(input+".watermark_interval", time.Second)
	}
	v.SetDefault("output.watermarks", false)
}

// Load reads the yml config file at path, or application.yml in . and ./config/ when path is empty,
// then merges application-<env>.yml if the env key is set. Every key can be overridden by
// environment variables like STREAMING_MERGE_MERGE_WINDOW_SIZE.
func Load(path string) (Application, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	v.SetConfigType("yml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config/")
		v.SetConfigName("application")
	}
	if err := v.ReadInConfig(); err != nil {
		return Application{}, errors.WithMessage(err, "failed to read config")
	}
	if env := v.GetString("env"); env != "" && path == "" {
		v.SetConfigName("application-" + env)
		//local config is optional
		_ = v.MergeInConfig()
	}
	var application Application
	if err := v.Unmarshal(&application); err != nil {
		return Application{}, errors.WithMessage(err, "failed to unmarshal config")
	}
	if err := application.Validate(); err != nil {
		return Application{}, err
	}
	return application, nil
}

func (a Application) Validate() error {
	if _, err := a.LogOptions(); err != nil {
		return err
	}
	if a.RetainedCheckpoints <= 0 {
		return errors.Errorf("retained_checkpoints should be positive, got %d", a.RetainedCheckpoints)
	}
	if a.NodeID < 0 || a.NodeID > 1023 {
		return errors.Errorf("node_id should be in [0, 1023], got %d", a.NodeID)
	}
	switch a.Merge.Accumulation {
	case "sum", "count", "cogroup":
	default:
		return errors.Errorf("unknown accumulation %q", a.Merge.Accumulation)
	}
	opts, err := a.Merge.Options()
	if err != nil {
		return err
	}
	if _, err = window.NewSettings(opts...); err != nil {
		return err
	}
	for i, input := range []Input{a.Input1, a.Input2} {
		if err := input.Validate(); err != nil {
			return errors.WithMessagef(err, "invalid input%d", i+1)
		}
	}
	return nil
}

func (a Application) LogOptions() (*log.Options, error) {
	level, err := log.ParseLevel(a.Log.Level)
	if err != nil {
		return nil, err
	}
	if a.Debug {
		level = log.DebugLevel
	}
	options := log.DefaultOptions().WithLevel(level).WithStdOutput(false)
	switch a.Log.Encoder {
	case "json":
		options = options.WithOutputEncoder(log.JsonOutputEncoder)
	case "console", "":
		options = options.WithOutputEncoder(log.ConsoleOutputEncoder)
	default:
		return nil, errors.Errorf("unknown log encoder %q", a.Log.Encoder)
	}
	return options, nil
}

// Options renders the merge section as window options.
func (m Merge) Options() ([]window.Option, error) {
	opts := []window.Option{
		window.WithName(m.Name),
		window.WithAllowedLateness(m.AllowedLateness),
		window.WithEarlyFiringCount(m.Trigger.EarlyFiringCount),
		window.WithEarlyFiringPeriod(m.Trigger.EarlyFiringPeriod),
		window.WithLateFiringCount(m.Trigger.LateFiringCount),
	}
	switch m.Window.Type {
	case "tumbling":
		opts = append(opts, window.WithTumbling(m.Window.Size, m.Window.Offset))
	case "sliding":
		opts = append(opts, window.WithSliding(m.Window.Size, m.Window.Slide, m.Window.Offset))
	case "session":
		opts = append(opts, window.WithSession(m.Window.Gap))
	case "global":
		opts = append(opts, window.WithGlobal())
	default:
		return nil, errors.Errorf("unknown window type %q", m.Window.Type)
	}
	switch m.LatenessPolicy {
	case "per_stream", "":
		opts = append(opts, window.WithLatenessPolicy(window.PerStream))
	case "combined":
		opts = append(opts, window.WithLatenessPolicy(window.Combined))
	default:
		return nil, errors.Errorf("unknown lateness policy %q", m.LatenessPolicy)
	}
	switch m.Trigger.Mode {
	case "accumulating", "":
		opts = append(opts, window.WithAccumulationMode(window.Accumulating))
	case "discarding":
		opts = append(opts, window.WithAccumulationMode(window.Discarding))
	default:
		return nil, errors.Errorf("unknown accumulation mode %q", m.Trigger.Mode)
	}
	if m.Trigger.OnTime {
		opts = append(opts, window.WithOnTimeFiring())
	}
	return opts, nil
}

func (i Input) Validate() error {
	switch i.Type {
	case "file":
		if i.File.Path == "" {
			return errors.New("file.path can't be empty")
		}
	case "kafka":
		if len(i.Kafka.Addresses) == 0 || i.Kafka.Topic == "" {
			return errors.New("kafka.addresses and kafka.topic are required")
		}
		if i.Kafka.Start != "oldest" && i.Kafka.Start != "newest" {
			return errors.Errorf("unknown kafka.start %q", i.Kafka.Start)
		}
	default:
		return errors.Errorf("unknown input type %q", i.Type)
	}
	_, err := i.Generator()
	return err
}

// Generator returns the implicit watermark generator of the input.
func (i Input) Generator() (watermark.Generator, error) {
	if i.OutOfOrderness <= 0 {
		return watermark.NoWatermarks(), nil
	}
	return watermark.BoundedOutOfOrderness(i.OutOfOrderness)
}
