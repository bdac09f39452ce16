package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/deploygrid/internal/localexecutor"
	"github.com/specialistvlad/deploygrid/internal/pipeline"
	"github.com/specialistvlad/deploygrid/internal/socketioexecutor"
)

// errNoExecutor is what a dry run's executor returns; dry runs never deploy.
var errNoExecutor = errors.New("no executor in a dry run")

// openExecutor builds the configured executor.
func openExecutor(ctx context.Context, cfg ExecutorConfig) (pipeline.Executor, closeFunc, error) {
	switch cfg.Kind {
	case ExecutorSimulated, "":
		return localexecutor.Simulated{}, noClose, nil
	case ExecutorCommand:
		if len(cfg.Command) == 0 {
			return nil, nil, errors.New("executor.command is empty")
		}
		return &localexecutor.Command{Path: cfg.Command[0], Args: cfg.Command[1:]}, noClose, nil
	case ExecutorSocketIO:
		e, err := socketioexecutor.Dial(ctx, socketioexecutor.Config{
			URL:                cfg.URL,
			Namespace:          cfg.Namespace,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			RequestTimeout:     cfg.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return e, e.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown executor kind %q", cfg.Kind)
	}
}

func dryRunExecutor() pipeline.Executor {
	return pipeline.ExecutorFunc(func(context.Context, pipeline.Request) (string, error) {
		return "", errNoExecutor
	})
}
