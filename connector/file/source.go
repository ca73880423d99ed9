package file

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/RuiFG/streaming-merge/connector/codec"
	"github.com/RuiFG/streaming-merge/element"
	"github.com/RuiFG/streaming-merge/log"
	"github.com/RuiFG/streaming-merge/watermark"
	"github.com/hpcloud/tail"
	"github.com/pkg/errors"
	"github.com/uber-go/tally/v4"
)

type Options struct {
	Name string
	Path string
	//Follow keeps reading appended lines like tail -f, otherwise the source ends at EOF
	Follow bool
	//Offset is the byte offset to start from, usually a restored task position
	Offset            int64
	Generator         watermark.Generator
	WatermarkInterval time.Duration
	Logger            log.Logger
	Scope             tally.Scope
}

// Source reads NDJSON records from a file.
type Source struct {
	Options
	logger log.Logger
}

func New(options Options) (*Source, error) {
	if options.Path == "" {
		return nil, errors.New("file source path can't be empty")
	}
	if options.Offset < 0 {
		return nil, errors.Errorf("file source offset should not be negative, got %d", options.Offset)
	}
	if options.Name == "" {
		options.Name = "file"
	}
	if options.Logger == nil {
		options.Logger = log.Global()
	}
	if options.Scope == nil {
		options.Scope = tally.NoopScope
	}
	return &Source{
		Options: options,
		logger:  options.Logger.Named(options.Name + ".source"),
	}, nil
}

// Run sends the records of the file to out and closes out on return.
// A source that is not following ends with the max watermark at EOF.
func (s *Source) Run(ctx context.Context, out chan<- element.Element) (err error) {
	defer close(out)
	t, err := tail.TailFile(s.Path, tail.Config{
		Location:  &tail.SeekInfo{Offset: s.Offset, Whence: io.SeekStart},
		ReOpen:    s.Follow,
		Follow:    s.Follow,
		MustExist: !s.Follow,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return errors.WithMessagef(err, "failed to open %s", s.Path)
	}
	defer func() {
		//the tailing goroutine blocks on Lines, drain until it exits
		t.Kill(nil)
		for range t.Lines {
		}
		_ = t.Wait()
		if s.Follow {
			t.Cleanup()
		}
	}()
	s.logger.Infow("reading file.", "path", s.Path, "offset", s.Offset, "follow", s.Follow)

	stream := codec.NewStream(ctx, s.logger, s.Scope.Tagged(map[string]string{"source": s.Name}), out, s.Generator)
	var ticks <-chan time.Time
	if s.WatermarkInterval > 0 {
		ticker := time.NewTicker(s.WatermarkInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}
	position := s.Offset
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			err = stream.Periodic()
		case line, ok := <-t.Lines:
			if !ok {
				if err = t.Wait(); err != nil {
					return errors.WithMessagef(err, "failed to read %s", s.Path)
				}
				s.logger.Infow("reached end of file.", "path", s.Path, "offset", position)
				return ignoreDone(ctx, stream.End())
			}
			if line.Err != nil {
				return errors.WithMessagef(line.Err, "failed to read %s", s.Path)
			}
			position += int64(len(line.Text)) + 1
			if strings.TrimSpace(line.Text) == "" {
				continue
			}
			err = stream.Line([]byte(line.Text), position)
		}
		if err != nil {
			return ignoreDone(ctx, err)
		}
	}
}

func ignoreDone(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
