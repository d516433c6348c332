package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/anstrom/netscope/internal/events"
	"github.com/anstrom/netscope/internal/runs"
)

// localFunc runs an engine in-process.
type localFunc[T any] func(ctx context.Context, runner *runs.Runner, pub events.Publisher) (T, error)

// execute runs one engine either in-process or, with --remote, as a run on
// an API server. endpoint is the API path that starts the run. Interrupting
// the command cancels the run and returns its partial result.
func execute[T any](cmd *cobra.Command, endpoint, rangeSpec string, local localFunc[T]) (T, error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progress events.Publisher
	if verbose {
		progress = &progressPrinter{w: cmd.ErrOrStderr()}
	}

	if remoteURL != "" {
		return executeRemote[T](ctx, endpoint, rangeSpec, progress)
	}

	var zero T
	cfg, err := loadConfig()
	if err != nil {
		return zero, err
	}
	return local(ctx, runs.NewRunner(cfg), events.OrDiscard(progress))
}

func executeRemote[T any](ctx context.Context, endpoint, rangeSpec string, progress events.Publisher) (T, error) {
	var result T

	client, err := NewAPIClient(remoteURL)
	if err != nil {
		return result, err
	}
	started, err := client.StartRun(ctx, endpoint, rangeSpec)
	if err != nil {
		return result, err
	}

	waitErr := client.Wait(ctx, started.ID, func(ev events.Event) {
		if progress != nil {
			progress.Publish(ev.Type, ev.Data)
		}
	})

	// ctx may be canceled by now; the partial result is fetched regardless.
	fetchCtx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if waitErr != nil {
		if err := client.waitFinished(fetchCtx, started.ID); err != nil {
			return result, waitErr
		}
	}

	summary, err := client.Run(fetchCtx, started.ID, &result)
	if err != nil {
		return result, err
	}
	if summary.Status == runs.StatusFailed {
		return result, fmt.Errorf("%s run failed: %s", summary.Kind, summary.Error)
	}
	return result, nil
}

// waitFinished polls until the run leaves the running state.
func (c *APIClient) waitFinished(ctx context.Context, id uuid.UUID) error {
	for {
		summary, err := c.Run(ctx, id, nil)
		if err != nil {
			return err
		}
		if summary.Status != runs.StatusRunning {
			return nil
		}
		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// progressPrinter writes run events as they happen.
type progressPrinter struct {
	w io.Writer
}

func (p *progressPrinter) Publish(eventType string, data any) {
	line := time.Now().Format("15:04:05.000") + " " + eventType
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			line += " " + string(b)
		}
	}
	fmt.Fprintln(p.w, line)
}
