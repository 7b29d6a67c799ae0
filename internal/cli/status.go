package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aretw0/tether/internal/presentation/tui"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/store"
)

type statusReport struct {
	Project  string                 `json:"project"`
	State    domain.ConnectionState `json:"state"`
	Snapshot store.Snapshot         `json:"snapshot"`
}

// RunStatus connects, waits for the runtime and prints the execution state.
func RunStatus(ctx context.Context, opts Options) error {
	logger, err := createLogger(opts.Config.LogLevel, opts.Debug)
	if err != nil {
		return err
	}

	client, h, err := connectOnce(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	report := statusReport{Project: h.Project(), State: h.Status(), Snapshot: h.Snapshot()}
	out := opts.out()

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	md := tui.SnapshotMarkdown(report.Project, report.State, report.Snapshot)
	if f, ok := out.(*os.File); ok && tui.IsTerminal(f) {
		if rendered, err := tui.NewRenderer()(md); err == nil {
			md = rendered
		}
	}
	_, err = fmt.Fprint(out, md)
	return err
}
