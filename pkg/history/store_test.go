package history

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/psub/pkg/job"
)

func submittedJob(t *testing.T, root, base string, at time.Time, commands ...string) *job.Job {
	t.Helper()
	j := job.New(base, job.DefaultResources(), job.Paths{Root: root, Scratch: filepath.Join(root, "tmp")}, at)
	j.Add(commands...)
	require.NoError(t, j.MarkSubmitted(at))
	return j
}

func TestStore_RegisterRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewStore(filepath.Join(root, "history"), nil)

	at := time.Date(2026, 1, 19, 12, 30, 45, 0, time.UTC)
	j := submittedJob(t, root, "align", at, "echo a", "echo b")
	j.Resources.Memory = "16G"
	j.Resources.BatchSize = 2

	require.NoError(t, s.Register(j))

	got, err := s.List()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, j.Name, got[0].Name)
	assert.Equal(t, j.Commands, got[0].Commands)
	assert.Equal(t, j.Resources, got[0].Resources)
	require.NotNil(t, got[0].SubmitTime)
	assert.True(t, j.SubmitTime.Equal(*got[0].SubmitTime))
}

func TestStore_RegisterRequiresSubmitTime(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)

	j := job.New("x", job.DefaultResources(), job.Paths{Root: root, Scratch: root}, time.Now())
	j.Add("true")

	err := s.Register(j)
	require.ErrorIs(t, err, ErrNotSubmitted)

	entries, _ := os.ReadDir(root)
	assert.Empty(t, entries)
}

func TestStore_RegisterRefusesOverwrite(t *testing.T) {
	root := t.TempDir()
	s := NewStore(filepath.Join(root, "history"), nil)

	j := submittedJob(t, root, "dup", time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC), "true")
	require.NoError(t, s.Register(j))
	require.ErrorIs(t, s.Register(j), ErrExists)
}

func TestStore_ListNewestFirst(t *testing.T) {
	root := t.TempDir()
	s := NewStore(filepath.Join(root, "history"), nil)

	t1 := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 19, 13, 0, 0, 0, time.UTC)
	t3 := time.Date(2026, 1, 18, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Register(submittedJob(t, root, "one", t1, "true")))
	require.NoError(t, s.Register(submittedJob(t, root, "two", t2, "true")))
	require.NoError(t, s.Register(submittedJob(t, root, "three", t3, "true")))

	got, err := s.List()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "two", got[0].BaseName)
	assert.Equal(t, "one", got[1].BaseName)
	assert.Equal(t, "three", got[2].BaseName)
}

func TestStore_ListSkipsCorruptAndUnsubmitted(t *testing.T) {
	root := t.TempDir()
	histRoot := filepath.Join(root, "history")
	s := NewStore(histRoot, nil)

	good := submittedJob(t, root, "good", time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC), "true")
	require.NoError(t, s.Register(good))

	corrupt := filepath.Join(histRoot, "corrupt")
	require.NoError(t, os.MkdirAll(corrupt, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(corrupt, "job.json"), []byte("{not json"), 0644))

	empty := filepath.Join(histRoot, "empty")
	require.NoError(t, os.MkdirAll(empty, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(empty, "job.json"), []byte("  \n"), 0644))

	require.NoError(t, os.MkdirAll(filepath.Join(histRoot, "missing"), 0755))

	unsubmitted := filepath.Join(histRoot, "unsubmitted")
	require.NoError(t, os.MkdirAll(unsubmitted, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(unsubmitted, "job.json"),
		[]byte(`{"name":"pending","commands":["true"],"submit_time":null}`), 0644))

	require.NoError(t, os.WriteFile(filepath.Join(histRoot, "stray.txt"), []byte("x"), 0644))

	got, err := s.List()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, good.Name, got[0].Name)
}

func TestStore_ListMissingRoot(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope"), nil)
	got, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_Resolve(t *testing.T) {
	root := t.TempDir()
	s := NewStore(filepath.Join(root, "history"), nil)

	a := submittedJob(t, root, "align", time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC), "true")
	b := submittedJob(t, root, "align", time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC), "true")
	c := submittedJob(t, root, "count", time.Date(2026, 1, 21, 12, 0, 0, 0, time.UTC), "true")
	for _, j := range []*job.Job{a, b, c} {
		require.NoError(t, s.Register(j))
	}

	got, err := s.Resolve(a.Name)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	got, err = s.Resolve(c.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)

	got, err = s.Resolve("count")
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)

	_, err = s.Resolve("align")
	var amb *AmbiguousError
	require.True(t, errors.As(err, &amb))
	assert.Equal(t, 2, amb.Matches)

	_, err = s.Resolve("zzz")
	require.ErrorIs(t, err, ErrNotFound)

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, c.Name, latest.Name)
}

func TestStore_GCAndTrim(t *testing.T) {
	root := t.TempDir()
	s := NewStore(filepath.Join(root, "history"), nil)

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	old := submittedJob(t, root, "old", now.Add(-30*24*time.Hour), "true")
	mid := submittedJob(t, root, "mid", now.Add(-3*24*time.Hour), "true")
	recent := submittedJob(t, root, "recent", now.Add(-time.Hour), "true")
	for _, j := range []*job.Job{old, mid, recent} {
		require.NoError(t, os.MkdirAll(j.LogDir, 0755))
		require.NoError(t, os.MkdirAll(j.TmpDir, 0755))
		require.NoError(t, s.Register(j))
	}

	res, err := s.GC(7*24*time.Hour, now, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.WouldDelete)
	assert.Equal(t, 0, res.Deleted)
	assert.DirExists(t, old.LogDir)

	res, err = s.GC(7*24*time.Hour, now, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []string{old.Name}, res.Jobs)
	assert.NoDirExists(t, old.LogDir)
	assert.NoDirExists(t, old.TmpDir)

	res, err = s.Trim(1, false)
	require.NoError(t, err)
	assert.Equal(t, []string{mid.Name}, res.Jobs)
	assert.DirExists(t, mid.LogDir)
	assert.DirExists(t, mid.TmpDir)

	got, err := s.List()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, recent.Name, got[0].Name)

	res, err = s.Trim(0, false)
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
}

func TestStore_TrimKeepsRunningJobFiles(t *testing.T) {
	root := t.TempDir()
	s := NewStore(filepath.Join(root, "history"), nil)

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	running := submittedJob(t, root, "running", now.Add(-time.Hour), "sleep 600")
	latest := submittedJob(t, root, "latest", now, "true")
	for _, j := range []*job.Job{running, latest} {
		require.NoError(t, os.MkdirAll(j.TmpDir, 0755))
		require.NoError(t, s.Register(j))
	}
	ledgerFile := running.LedgerPath()
	require.NoError(t, os.WriteFile(ledgerFile, []byte("ledger"), 0644))
	require.NoError(t, os.WriteFile(running.TasksFile(), []byte("sleep 600\n"), 0644))

	res, err := s.Trim(1, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.FileExists(t, ledgerFile)
	assert.FileExists(t, running.TasksFile())
}

func TestStore_KeepRemovesDirectories(t *testing.T) {
	root := t.TempDir()
	s := NewStore(filepath.Join(root, "history"), nil)

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	old := submittedJob(t, root, "old", now.Add(-time.Hour), "true")
	latest := submittedJob(t, root, "latest", now, "true")
	for _, j := range []*job.Job{old, latest} {
		require.NoError(t, os.MkdirAll(j.LogDir, 0755))
		require.NoError(t, os.MkdirAll(j.TmpDir, 0755))
		require.NoError(t, s.Register(j))
	}

	res, err := s.Keep(1, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.WouldDelete)
	assert.DirExists(t, old.TmpDir)

	res, err = s.Keep(1, false)
	require.NoError(t, err)
	assert.Equal(t, []string{old.Name}, res.Jobs)
	assert.NoDirExists(t, old.LogDir)
	assert.NoDirExists(t, old.TmpDir)
	assert.DirExists(t, latest.TmpDir)
}

func TestStore_RegisterCleansUpOnWriteFailure(t *testing.T) {
	orig := writeFile
	defer func() { writeFile = orig }()
	writeFile = func(*os.File, []byte) (int, error) { return 0, errors.New("disk full") }

	root := t.TempDir()
	s := NewStore(filepath.Join(root, "history"), nil)
	j := submittedJob(t, root, "broken", time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC), "true")

	err := s.Register(j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	key, err := Key(j)
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(s.RootDir(), key))

	writeFile = orig
	require.NoError(t, s.Register(j))
}
