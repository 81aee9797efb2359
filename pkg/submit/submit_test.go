package submit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/psub/pkg/history"
	"github.com/3leaps/psub/pkg/job"
	"github.com/3leaps/psub/pkg/ledger"
	"github.com/3leaps/psub/pkg/scheduler"
	"github.com/3leaps/psub/pkg/scripts"
)

type fakeScheduler struct {
	calls []scheduler.ArrayRequest
	out   string
	err   error
}

func (f *fakeScheduler) SubmitArray(_ context.Context, req scheduler.ArrayRequest) (string, error) {
	f.calls = append(f.calls, req)
	return f.out, f.err
}

type fakeConfirmer struct {
	answer bool
	asked  int
}

func (f *fakeConfirmer) Confirm(string) (bool, error) {
	f.asked++
	return f.answer, nil
}

var submitNow = time.Date(2026, 1, 19, 12, 30, 45, 0, time.UTC)

func setup(t *testing.T) (*Submitter, *fakeScheduler, *fakeConfirmer, *job.Job) {
	t.Helper()
	root := t.TempDir()
	paths := job.Paths{Root: root, Scratch: filepath.Join(root, "tmp")}

	sched := &fakeScheduler{out: "Your job-array 42.1-2:1 has been submitted\n"}
	conf := &fakeConfirmer{answer: true}
	s := &Submitter{
		Scheduler: sched,
		History:   history.NewStore(filepath.Join(root, "history"), nil),
		Scripts:   scripts.Options{Binary: "psub"},
		Confirmer: conf,
		Out:       &bytes.Buffer{},
		Now:       func() time.Time { return submitNow },
	}

	j := job.New("demo", job.DefaultResources(), paths, submitNow)
	j.Add("echo a", "echo b")
	return s, sched, conf, j
}

func TestSubmit_Success(t *testing.T) {
	s, sched, conf, j := setup(t)

	res, err := s.Submit(context.Background(), j, Options{})
	require.NoError(t, err)
	assert.True(t, res.Submitted)
	assert.Equal(t, 1, conf.asked)
	require.Len(t, sched.calls, 1)
	assert.Equal(t, j.SubmissionScript(), sched.calls[0].SubmissionScript)
	assert.Equal(t, j.TasksFile(), sched.calls[0].TasksFile)
	assert.Equal(t, 1, sched.calls[0].BatchSize)

	require.NotNil(t, j.SubmitTime)
	assert.True(t, submitNow.Equal(*j.SubmitTime))
	assert.Contains(t, j.SchedulerOutput, "42.1-2:1")

	jobs, err := s.History.List()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, j.Name, jobs[0].Name)

	assert.FileExists(t, j.TasksFile())
	assert.FileExists(t, j.SubmissionScript())
	assert.FileExists(t, j.RunnerScript())
	assert.FileExists(t, j.LedgerPath())
	assert.DirExists(t, j.LogDir)

	assert.Empty(t, ledger.Read(context.Background(), ledger.Config{Path: j.LedgerPath()}, nil))
	assert.Contains(t, s.Out.(*bytes.Buffer).String(), "2 commands will be submitted")
}

func TestSubmit_EmptyCommandList(t *testing.T) {
	s, sched, _, j := setup(t)
	j.Commands = nil

	_, err := s.Submit(context.Background(), j, Options{Yes: true})
	require.ErrorIs(t, err, job.ErrEmptyCommandList)
	assert.Empty(t, sched.calls)
	assert.NoDirExists(t, j.TmpDir)
}

func TestSubmit_DryRun(t *testing.T) {
	s, sched, conf, j := setup(t)

	res, err := s.Submit(context.Background(), j, Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.False(t, res.Submitted)
	assert.Zero(t, conf.asked)
	assert.Empty(t, sched.calls)
	assert.Nil(t, j.SubmitTime)
	assert.FileExists(t, j.SubmissionScript())

	jobs, err := s.History.List()
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSubmit_Declined(t *testing.T) {
	s, sched, conf, j := setup(t)
	conf.answer = false

	_, err := s.Submit(context.Background(), j, Options{})
	require.ErrorIs(t, err, ErrDeclined)
	assert.Empty(t, sched.calls)
	assert.Nil(t, j.SubmitTime)
}

func TestSubmit_YesSkipsPrompt(t *testing.T) {
	s, sched, conf, j := setup(t)

	_, err := s.Submit(context.Background(), j, Options{Yes: true})
	require.NoError(t, err)
	assert.Zero(t, conf.asked)
	assert.Len(t, sched.calls, 1)
}

func TestSubmit_TransportFailureSkipsHistory(t *testing.T) {
	s, _, _, j := setup(t)
	cause := &scheduler.TransportError{Command: []string{"ssh", "login"}, Err: errors.New("exit status 255")}
	s.Scheduler = &fakeScheduler{err: cause}

	_, err := s.Submit(context.Background(), j, Options{Yes: true})
	var te *scheduler.TransportError
	require.True(t, errors.As(err, &te))
	assert.Nil(t, j.SubmitTime)

	jobs, err := s.History.List()
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSubmit_RefusesResubmit(t *testing.T) {
	s, _, _, j := setup(t)
	_, err := s.Submit(context.Background(), j, Options{Yes: true})
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), j, Options{Yes: true})
	require.ErrorIs(t, err, job.ErrAlreadySubmitted)
}

func TestSubmit_HistoryLimit(t *testing.T) {
	s, _, _, first := setup(t)
	s.HistoryLimit = 1

	_, err := s.Submit(context.Background(), first, Options{Yes: true})
	require.NoError(t, err)

	later := submitNow.Add(time.Minute)
	s.Now = func() time.Time { return later }
	second := job.New("demo", job.DefaultResources(), job.Paths{Root: filepath.Dir(filepath.Dir(first.LogDir)), Scratch: filepath.Dir(first.TmpDir)}, later)
	second.Add("true")
	_, err = s.Submit(context.Background(), second, Options{Yes: true})
	require.NoError(t, err)

	jobs, err := s.History.List()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, second.Name, jobs[0].Name)
	assert.FileExists(t, first.LedgerPath())
	assert.FileExists(t, first.TasksFile())
}

func TestSubmit_SameNameSameSecond(t *testing.T) {
	s, sched, _, first := setup(t)
	_, err := s.Submit(context.Background(), first, Options{Yes: true})
	require.NoError(t, err)

	l, err := ledger.OpenLedger(context.Background(), ledger.Config{Path: first.LedgerPath()})
	require.NoError(t, err)
	require.NoError(t, l.MarkExit(context.Background(), 1, 7, submitNow))
	require.NoError(t, l.Close())

	paths := job.Paths{Root: filepath.Dir(filepath.Dir(first.LogDir)), Scratch: filepath.Dir(first.TmpDir)}
	second := job.New("demo", job.DefaultResources(), paths, submitNow)
	second.Add("echo other")
	require.Equal(t, first.TmpDir, second.TmpDir)

	_, err = s.Submit(context.Background(), second, Options{Yes: true})
	require.ErrorIs(t, err, ErrJobExists)
	assert.Len(t, sched.calls, 1)
	assert.False(t, second.Submitted())

	tasks, err := os.ReadFile(first.TasksFile())
	require.NoError(t, err)
	assert.Equal(t, "echo a\necho b\n", string(tasks))
}

func TestPromptConfirmer(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"\n", true},
		{"y\n", true},
		{"Y\n", true},
		{"yes\n", true},
		{"n\n", false},
		{"nope\n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			ok, err := PromptConfirmer{In: strings.NewReader(tt.input), Out: &out}.Confirm("Submit? ")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, "Submit? ", out.String())
		})
	}
}
