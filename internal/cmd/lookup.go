package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/psub/pkg/history"
	"github.com/3leaps/psub/pkg/job"
)

// resolveJob looks up the job named by args[0], or the most recent job when
// args is empty.
func resolveJob(store *history.Store, args []string) (*job.Job, error) {
	var (
		j   *job.Job
		err error
	)
	if len(args) == 0 {
		j, err = store.Latest()
	} else {
		j, err = store.Resolve(args[0])
	}

	var ambiguous *history.AmbiguousError
	switch {
	case err == nil:
		return j, nil
	case errors.Is(err, history.ErrNotFound):
		return nil, exitError(foundry.ExitFileNotFound, "Job not found", err)
	case errors.As(err, &ambiguous):
		return nil, exitError(foundry.ExitInvalidArgument, "Ambiguous job", err)
	default:
		return nil, exitError(foundry.ExitFileReadError, "Failed to read history", fmt.Errorf("%s: %w", store.RootDir(), err))
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
