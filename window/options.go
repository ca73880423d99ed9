package window

import (
	"time"

	"github.com/RuiFG/streaming-merge/log"
	"github.com/pkg/errors"
	"github.com/uber-go/tally/v4"
)

var ErrMissingConfiguration = errors.New("missing configuration")

// Settings is the window configuration shared by every operator built on Engine.
type Settings struct {
	Name            string
	Assigner        Assigner
	AllowedLateness int64
	LatenessPolicy  LatenessPolicy
	Trigger         Trigger
	Logger          log.Logger
	Scope           tally.Scope
}

type Option func(settings *Settings) error

func NewSettings(opts ...Option) (*Settings, error) {
	settings := &Settings{
		Name:           "window",
		LatenessPolicy: PerStream,
		Trigger:        Trigger{Mode: Accumulating},
	}
	for _, opt := range opts {
		if err := opt(settings); err != nil {
			return nil, err
		}
	}
	if settings.Assigner == nil {
		return nil, errors.Wrap(ErrMissingConfiguration, "window assigner can't be nil")
	}
	if settings.Logger == nil {
		settings.Logger = log.Global()
	}
	if settings.Scope == nil {
		settings.Scope = tally.NoopScope
	}
	return settings, nil
}

func WithName(name string) Option {
	return func(settings *Settings) error {
		if name == "" {
			return errors.Errorf("name can't be empty")
		}
		settings.Name = name
		return nil
	}
}

func WithAssigner(assigner Assigner) Option {
	return func(settings *Settings) error {
		if assigner == nil {
			return errors.Errorf("assigner can't be nil")
		}
		settings.Assigner = assigner
		return nil
	}
}

func WithTumbling(windowSize time.Duration, globalOffset time.Duration) Option {
	return func(settings *Settings) error {
		if windowSize < time.Millisecond {
			return errors.Errorf("windowSize should be greater than milliseconds")
		}
		assigner, err := Tumbling(windowSize.Milliseconds(), globalOffset.Milliseconds())
		if err != nil {
			return err
		}
		settings.Assigner = assigner
		return nil
	}
}

func WithSliding(windowSize time.Duration, slide time.Duration, globalOffset time.Duration) Option {
	return func(settings *Settings) error {
		if windowSize < time.Millisecond || slide < time.Millisecond {
			return errors.Errorf("windowSize and slide should be greater than milliseconds")
		}
		assigner, err := Sliding(windowSize.Milliseconds(), slide.Milliseconds(), globalOffset.Milliseconds())
		if err != nil {
			return err
		}
		settings.Assigner = assigner
		return nil
	}
}

func WithSession(gap time.Duration) Option {
	return func(settings *Settings) error {
		if gap < time.Millisecond {
			return errors.Errorf("gap should be greater than milliseconds")
		}
		assigner, err := Session(gap.Milliseconds())
		if err != nil {
			return err
		}
		settings.Assigner = assigner
		return nil
	}
}

func WithGlobal() Option {
	return func(settings *Settings) error {
		settings.Assigner = Global()
		return nil
	}
}

func WithAllowedLateness(allowedLateness time.Duration) Option {
	return func(settings *Settings) error {
		if allowedLateness < 0 {
			return errors.Errorf("allowedLateness can't less than 0")
		}
		settings.AllowedLateness = allowedLateness.Milliseconds()
		return nil
	}
}

func WithLatenessPolicy(policy LatenessPolicy) Option {
	return func(settings *Settings) error {
		if policy != PerStream && policy != Combined {
			return errors.Errorf("unknown lateness policy %s", policy)
		}
		settings.LatenessPolicy = policy
		return nil
	}
}

func WithOnTimeFiring() Option {
	return func(settings *Settings) error {
		settings.Trigger.OnTime = true
		return nil
	}
}

func WithEarlyFiringCount(count int) Option {
	return func(settings *Settings) error {
		if count < 0 {
			return errors.Errorf("early firing count can't less than 0")
		}
		settings.Trigger.EarlyFiringCount = count
		return nil
	}
}

func WithEarlyFiringPeriod(period time.Duration) Option {
	return func(settings *Settings) error {
		if period < 0 {
			return errors.Errorf("early firing period can't less than 0")
		}
		settings.Trigger.EarlyFiringPeriod = period
		return nil
	}
}

func WithLateFiringCount(count int) Option {
	return func(settings *Settings) error {
		if count < 0 {
			return errors.Errorf("late firing count can't less than 0")
		}
		settings.Trigger.LateFiringCount = count
		return nil
	}
}

func WithAccumulationMode(mode AccumulationMode) Option {
	return func(settings *Settings) error {
		if mode != Accumulating && mode != Discarding {
			return errors.Errorf("unknown accumulation mode %s", mode)
		}
		settings.Trigger.Mode = mode
		return nil
	}
}

func WithLogger(logger log.Logger) Option {
	return func(settings *Settings) error {
		if logger == nil {
			return errors.Errorf("logger can't be nil")
		}
		settings.Logger = logger
		return nil
	}
}

func WithMetricsScope(scope tally.Scope) Option {
	return func(settings *Settings) error {
		if scope == nil {
			return errors.Errorf("metrics scope can't be nil")
		}
		settings.Scope = scope
		return nil
	}
}
