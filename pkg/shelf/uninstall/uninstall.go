// Package uninstall sequences a shelf uninstall: plan the restoration, get
// it confirmed, snapshot the managed root, restore, and clean up. Nothing
// is mutated before the snapshot exists.
package uninstall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jamesainslie/shelf/pkg/shelf/backup"
	"github.com/jamesainslie/shelf/pkg/shelf/cleanup"
	"github.com/jamesainslie/shelf/pkg/shelf/fsutil"
	"github.com/jamesainslie/shelf/pkg/shelf/logging"
	"github.com/jamesainslie/shelf/pkg/shelf/restore"
	"github.com/jamesainslie/shelf/pkg/shelf/snapshot"
	"github.com/jamesainslie/shelf/pkg/shelf/types"
)

var logger = logging.Get("uninstall")

var (
	// ErrManagedRootMissing aborts validation.
	ErrManagedRootMissing = errors.New("managed root does not exist")

	// ErrDeclined is returned when the plan was not confirmed.
	ErrDeclined = errors.New("uninstall declined")

	// ErrNoConfirmation is returned when neither Confirm nor NonInteractive
	// is set.
	ErrNoConfirmation = errors.New("no confirmation available; use non-interactive mode to proceed without one")
)

// RestoreFailedError reports a failed restoration. The managed root is
// untouched and can be recovered from SnapshotPath.
type RestoreFailedError struct {
	SnapshotPath string
	Err          error
}

// Error implements the error interface.
func (e *RestoreFailedError) Error() string {
	if e.SnapshotPath == "" {
		return fmt.Sprintf("restoration failed: %v", e.Err)
	}
	return fmt.Sprintf("restoration failed (recover from snapshot %s): %v", e.SnapshotPath, e.Err)
}

// Unwrap returns the underlying error.
func (e *RestoreFailedError) Unwrap() error {
	return e.Err
}

// Options configures one uninstall run.
type Options struct {
	Home        string
	ManagedRoot string
	BackupDir   string

	// Option is the restoration strategy tried first.
	Option restore.Option

	// Fallback is asked for another option when planning fails. Returning
	// nil, or an option already tried, aborts.
	Fallback func(failed restore.Option, err error) restore.Option

	// Confirm is shown the plan and must approve it.
	Confirm func(*restore.Plan) bool

	// NonInteractive approves the plan without calling Confirm.
	NonInteractive bool

	// SkipSnapshot disables the safety snapshot.
	SkipSnapshot bool

	// SnapshotDir receives the snapshot; it defaults to Home.
	SnapshotDir      string
	SnapshotProgress types.ProgressFunc

	KeepBackups bool
	UseTrash    bool
	Preserve    []string
}

// Report is the outcome of Run.
type Report struct {
	RunID        string              `json:"run_id" yaml:"run_id"`
	Trace        []Transition        `json:"trace" yaml:"trace"`
	Plan         *restore.Plan       `json:"plan,omitempty" yaml:"plan,omitempty"`
	SnapshotPath string              `json:"snapshot_path,omitempty" yaml:"snapshot_path,omitempty"`
	SnapshotSize int64               `json:"snapshot_size,omitempty" yaml:"snapshot_size,omitempty"`
	Restore      *restore.ExecReport `json:"restore,omitempty" yaml:"restore,omitempty"`
	Cleanup      *cleanup.Report     `json:"cleanup,omitempty" yaml:"cleanup,omitempty"`
	Err          error               `json:"-" yaml:"-"`
}

// State returns the state the run ended in.
func (r *Report) State() State {
	if len(r.Trace) == 0 {
		return StateValidating
	}
	return r.Trace[len(r.Trace)-1].To
}

// Orchestrator runs uninstalls.
type Orchestrator struct {
	now func() time.Time
}

// New returns an Orchestrator.
func New() *Orchestrator {
	return &Orchestrator{now: time.Now}
}

type run struct {
	o     *Orchestrator
	opts  Options
	r     *Report
	state State
	log   *logging.Logger
}

func (x *run) to(next State, note string) {
	x.r.Trace = append(x.r.Trace, Transition{From: x.state, To: next, At: x.o.now().UTC(), Note: note})
	x.log.Info("state", "from", x.state, "to", next, "note", note)
	x.state = next
}

func (x *run) abort(err error) *Report {
	x.to(StateAborted, err.Error())
	x.r.Err = err
	return x.r
}

// Run executes the uninstall and always returns a report; Report.Err is set
// when the run ended in StateAborted.
func (o *Orchestrator) Run(ctx context.Context, opts Options) *Report {
	id := uuid.NewString()
	x := &run{
		o:     o,
		opts:  opts,
		r:     &Report{RunID: id},
		state: StateValidating,
		log:   logger.With("run", id),
	}

	// Validating
	if opts.ManagedRoot == "" || !fsutil.Exists(opts.ManagedRoot) {
		return x.abort(fmt.Errorf("%w: %s", ErrManagedRootMissing, opts.ManagedRoot))
	}
	if opts.Option == nil {
		return x.abort(errors.New("no restoration option selected"))
	}
	x.to(StatePlanningRestoration, opts.Option.String())

	plan, err := x.plan(ctx)
	if err != nil {
		return x.abort(err)
	}
	x.r.Plan = plan

	// AwaitingConfirmation
	x.to(StateAwaitingConfirmation, plan.OptionName)
	switch {
	case opts.NonInteractive:
		x.log.Info("plan approved non-interactively")
	case opts.Confirm == nil:
		return x.abort(ErrNoConfirmation)
	case !opts.Confirm(plan):
		return x.abort(ErrDeclined)
	}
	if err := ctx.Err(); err != nil {
		return x.abort(err)
	}

	// SnapshotCreated
	if opts.SkipSnapshot {
		x.log.Warn("safety snapshot disabled")
	} else {
		dir := opts.SnapshotDir
		if dir == "" {
			dir = opts.Home
		}
		out := snapshot.DefaultPath(dir, o.now())
		size, err := snapshot.Create(ctx, opts.ManagedRoot, out, snapshot.Options{Progress: opts.SnapshotProgress})
		if err != nil {
			return x.abort(err)
		}
		x.r.SnapshotPath, x.r.SnapshotSize = out, size
		x.to(StateSnapshotCreated, out)
	}

	// Restoring
	x.to(StateRestoring, plan.OptionName)
	x.r.Restore = restore.Execute(ctx, plan, restore.Env{Home: opts.Home, ManagedRoot: opts.ManagedRoot, BackupDir: opts.BackupDir})
	if !x.r.Restore.OK() {
		return x.abort(&RestoreFailedError{SnapshotPath: x.r.SnapshotPath, Err: x.r.Restore.Err()})
	}

	// CleaningUp
	x.to(StateCleaningUp, "")
	x.r.Cleanup = cleanup.All(ctx, cleanup.Config{
		ManagedRoot: opts.ManagedRoot,
		Home:        opts.Home,
		BackupDir:   opts.BackupDir,
		KeepBackups: opts.KeepBackups,
		Preserve:    opts.Preserve,
		UseTrash:    opts.UseTrash,
	})
	note := ""
	if !x.r.Cleanup.OK() {
		note = fmt.Sprintf("%d cleanup items failed", len(x.r.Cleanup.Errors))
	}
	x.to(StateDone, note)
	return x.r
}

// plan builds the restoration plan, looping through Fallback until an
// option can be planned.
func (x *run) plan(ctx context.Context) (*restore.Plan, error) {
	in, err := restore.LoadInput(x.opts.Home, x.opts.ManagedRoot, x.opts.BackupDir)
	if err != nil {
		return nil, err
	}

	opt := x.opts.Option
	tried := map[string]bool{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tried[opt.String()] = true

		plan, err := restore.NewPlan(opt, in)
		if err == nil {
			err = verifyBackup(opt, in)
		}
		if err == nil {
			return plan, nil
		}
		if x.opts.Fallback == nil {
			return nil, err
		}
		next := x.opts.Fallback(opt, err)
		if next == nil || tried[next.String()] {
			return nil, err
		}
		x.log.Warn("planning failed, trying another option", "option", opt, "next", next, "error", err)
		x.to(StatePlanningRestoration, next.String())
		opt = next
	}
}

// verifyBackup checks the backup a RestoreOriginal plan reads from. A
// failure is a planning failure: nothing has been snapshotted or changed.
func verifyBackup(opt restore.Option, in restore.Input) error {
	if _, ok := opt.(restore.RestoreOriginal); !ok || in.Manifest == nil {
		return nil
	}
	rep := backup.Verify(in.Manifest, in.BackupDir)
	if !rep.OK() {
		return rep.Err()
	}
	return nil
}
