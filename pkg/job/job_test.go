package job

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/psub/pkg/expand"
)

var testNow = time.Date(2026, 1, 19, 12, 30, 45, 0, time.UTC)

func testPaths(t *testing.T) Paths {
	root := t.TempDir()
	return Paths{Root: root, Scratch: filepath.Join(root, "tmp")}
}

func TestResourceString(t *testing.T) {
	tests := []struct {
		name string
		res  Resources
		want string
	}{
		{
			name: "all fields with highp",
			res:  Resources{Arch: "intel*", Memory: "1G", Time: "0:10:00", HighP: true},
			want: "arch=intel*,h_data=1G,h_rt=0:10:00,highp",
		},
		{
			name: "highp disabled",
			res:  Resources{Arch: "intel*", Memory: "4G", Time: "7:59:59"},
			want: "arch=intel*,h_data=4G,h_rt=7:59:59",
		},
		{
			name: "no arch",
			res:  Resources{Memory: "8G", Time: "24:00:00", HighP: true},
			want: "h_data=8G,h_rt=24:00:00,highp",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.ResourceString())
		})
	}
}

func TestDefaultResources(t *testing.T) {
	assert.Equal(t, "arch=intel*,h_data=4G,h_rt=7:59:59,highp", DefaultResources().ResourceString())
}

func TestResources_Normalize(t *testing.T) {
	got := Resources{Arch: " amd* "}.Normalize()
	assert.Equal(t, "amd*", got.Arch)
	assert.Equal(t, DefaultMemory, got.Memory)
	assert.Equal(t, DefaultTime, got.Time)
	assert.Equal(t, 1, got.Cores)
	assert.Equal(t, 1, got.BatchSize)
}

func TestNew_LayoutAndName(t *testing.T) {
	paths := testPaths(t)
	j := New("align reads", DefaultResources(), paths, testNow)

	assert.Equal(t, "align_reads.2026_01_19T123045", j.Name)
	assert.Equal(t, "align_reads", j.BaseName)
	assert.NotEmpty(t, j.ID)
	assert.Nil(t, j.SubmitTime)
	assert.Equal(t, filepath.Join(paths.Root, "logs", j.Name), j.LogDir)
	assert.Equal(t, filepath.Join(paths.Scratch, j.Name), j.TmpDir)
	assert.Equal(t, filepath.Join(j.TmpDir, "commands.sh"), j.TasksFile())
	assert.Equal(t, filepath.Join(j.TmpDir, "exit_status.sqlite"), j.LedgerPath())
}

func TestNew_DefaultName(t *testing.T) {
	j := New("", DefaultResources(), testPaths(t), testNow)
	assert.Equal(t, "job.2026_01_19T123045", j.Name)
}

func TestAddParameterCombinations(t *testing.T) {
	j := New("test_job", Resources{Arch: "intel*", Memory: "1G", Time: "0:10:00", HighP: true}, testPaths(t), testNow)

	err := j.AddParameterCombinations("echo {} -k {}", expand.Values("a", "b"), expand.Values("X", "Y"))
	require.NoError(t, err)

	assert.Equal(t, []string{"echo a -k X", "echo a -k Y", "echo b -k X", "echo b -k Y"}, j.Commands)
	for i, want := range j.Commands {
		got, ok := j.Command(i + 1)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := j.Command(0)
	assert.False(t, ok)
	_, ok = j.Command(5)
	assert.False(t, ok)
}

func TestAddParameterCombinations_ArityLeavesJobUntouched(t *testing.T) {
	j := New("t", DefaultResources(), testPaths(t), testNow)
	err := j.AddParameterCombinations("echo {} {}", expand.Values("a"))
	require.Error(t, err)
	assert.True(t, expand.IsTemplateArity(err))
	assert.Empty(t, j.Commands)
}

func TestValidate_EmptyCommands(t *testing.T) {
	j := New("t", DefaultResources(), testPaths(t), testNow)
	require.ErrorIs(t, j.Validate(), ErrEmptyCommandList)

	j.Add("true")
	require.NoError(t, j.Validate())

	j.Add("echo a\necho b")
	require.ErrorIs(t, j.Validate(), ErrMultilineCommand)
}

func TestMarkSubmitted_Once(t *testing.T) {
	j := New("t", DefaultResources(), testPaths(t), testNow)
	require.NoError(t, j.MarkSubmitted(testNow))
	require.True(t, j.Submitted())
	require.ErrorIs(t, j.MarkSubmitted(testNow.Add(time.Minute)), ErrAlreadySubmitted)
	assert.Equal(t, testNow, *j.SubmitTime)
}

func TestRerunFailed(t *testing.T) {
	paths := testPaths(t)
	orig := New("sweep", Resources{Arch: "amd*", Memory: "2G", Time: "1:00:00", Cores: 4, BatchSize: 2}, paths, testNow)
	orig.Add("c1", "c2", "c3", "c4")
	require.NoError(t, orig.MarkSubmitted(testNow))

	later := testNow.Add(time.Hour)
	rerun, err := RerunFailed(orig, []int{4, 2, 2, 9}, paths, later)
	require.NoError(t, err)

	assert.Equal(t, []string{"c2", "c4"}, rerun.Commands)
	assert.Equal(t, orig.Resources, rerun.Resources)
	assert.Equal(t, orig.Name, rerun.RerunOf)
	assert.Nil(t, rerun.SubmitTime)
	assert.NotEqual(t, orig.ID, rerun.ID)
	assert.True(t, strings.HasPrefix(rerun.Name, "sweep_rerun."))

	// The original is untouched.
	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, orig.Commands)
}

func TestRerunFailed_NothingFailed(t *testing.T) {
	orig := New("sweep", DefaultResources(), testPaths(t), testNow)
	orig.Add("c1")
	_, err := RerunFailed(orig, nil, testPaths(t), testNow)
	require.ErrorIs(t, err, ErrNoFailedTasks)
}

func TestJSONRoundTrip(t *testing.T) {
	j := New("rt", Resources{Arch: "intel*", Memory: "1G", Time: "0:10:00", HighP: true, Cores: 2, BatchSize: 3}, testPaths(t), testNow)
	j.Add("echo 1", "echo 2")
	require.NoError(t, j.MarkSubmitted(testNow))

	b, err := json.Marshal(j)
	require.NoError(t, err)

	var got Job
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, j.Commands, got.Commands)
	assert.Equal(t, j.Resources, got.Resources)
	require.NotNil(t, got.SubmitTime)
	assert.True(t, j.SubmitTime.Equal(*got.SubmitTime))
}

func TestString_Preview(t *testing.T) {
	j := New("p", Resources{Memory: "1G", Time: "0:10:00", BatchSize: 2}, testPaths(t), testNow)
	for i := 1; i <= 12; i++ {
		j.Add(fmt.Sprintf("cmd %d", i))
	}

	s := j.String()
	assert.Contains(t, s, "Psub: "+j.Name)
	assert.Contains(t, s, "Resources to request: h_data=1G,h_rt=0:10:00")
	assert.Contains(t, s, "12 commands will be submitted:")
	assert.Contains(t, s, "Jobs per batch: 2")
	assert.Contains(t, s, "cmd 5\n...\ncmd 8")
	assert.NotContains(t, s, "cmd 6\n")
}

func TestPreviewCommands_Short(t *testing.T) {
	cmds := []string{"a", "b", "c"}
	assert.Equal(t, cmds, PreviewCommands(cmds))
}
