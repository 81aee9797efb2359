// Package scripts renders the shell scripts handed to the scheduler.
//
// Two scripts are written per job. The submission script is run on a host
// with the scheduler client; it counts the tasks file and pipes an array-job
// definition into qsub. The runner script executes on the worker for each
// task in its batch, bracketing the command with ledger writes.
package scripts

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/3leaps/psub/pkg/job"
)

const submissionTemplate = `#!/bin/bash
TASKS_FILE=${1:-{{ quote .TasksFile }}}
NUM_IN_BATCH=${2:-{{ .BatchSize }}}
N_TASKS=$(wc -l < "$TASKS_FILE")
echo "Submitting $N_TASKS tasks to the queue from $TASKS_FILE, with $NUM_IN_BATCH lines in each batch"
qsub <<CMD
#!/bin/bash
#$ -cwd
#$ -j y
#$ -S /bin/bash
#$ -V
#$ -l {{ .ResourceString }}
#$ -pe shared {{ .Cores }}
#$ -N {{ .JobName }}
#$ -o {{ .LogDir }}/job.\$TASK_ID.\${HOSTNAME}.log
#$ -t 1-${N_TASKS}:${NUM_IN_BATCH}
{{- range .Setup }}
{{ . }}
{{- end }}
{{ quote .RunnerScript }} "$TASKS_FILE" "$NUM_IN_BATCH"
{{- range .Teardown }}
{{ . }}
{{- end }}
sleep \$((11-SECONDS)) 2> /dev/null
CMD
`

const runnerTemplate = `#!/bin/bash
TASKS_FILE=$1
NUM_IN_BATCH=${2:-1}
N_TASKS=$(wc -l < "$TASKS_FILE")
for ((i=0; i<NUM_IN_BATCH; i++)); do
    LINE_NUM=$((SGE_TASK_ID+i))
    if [ "$LINE_NUM" -gt "$N_TASKS" ]; then
        break
    fi
    CMD=$(awk "NR==$LINE_NUM" "$TASKS_FILE")
    {{ .Mark }} --task "$LINE_NUM" --state started
    ( eval "$CMD" )
    EXIT_STATUS=$?
    {{ .Mark }} --task "$LINE_NUM" --state "$EXIT_STATUS"
done
`

var (
	funcs = template.FuncMap{
		"quote": func(s string) string { return shellquote.Join(s) },
	}
	submissionTmpl = template.Must(template.New("submission").Funcs(funcs).Parse(submissionTemplate))
	runnerTmpl     = template.Must(template.New("runner").Funcs(funcs).Parse(runnerTemplate))
)

// Options are the installation-specific inputs to the scripts.
type Options struct {
	// Binary is the psub executable the runner calls to write ledger entries.
	Binary string
	// Setup lines run inside the array job before the runner.
	Setup []string
	// Teardown lines run inside the array job after the runner.
	Teardown []string
	// JournalMode and BusyTimeout are passed to every ledger write so workers
	// open the ledger the way it was created.
	JournalMode string
	BusyTimeout time.Duration
}

// SubmissionParams fills the submission script.
type SubmissionParams struct {
	JobName        string
	ResourceString string
	LogDir         string
	Cores          int
	BatchSize      int
	TasksFile      string
	RunnerScript   string
	Setup          []string
	Teardown       []string
}

// RunnerParams fills the runner script.
type RunnerParams struct {
	Binary      string
	LedgerPath  string
	JournalMode string
	BusyTimeout time.Duration
}

// Mark is the shell prefix that records a ledger entry.
func (p RunnerParams) Mark() string {
	args := []string{p.Binary, "ledger", "mark", "--db", p.LedgerPath}
	if mode := strings.TrimSpace(p.JournalMode); mode != "" {
		args = append(args, "--journal-mode", mode)
	}
	if p.BusyTimeout > 0 {
		args = append(args, "--busy-timeout", p.BusyTimeout.String())
	}
	return shellquote.Join(args...)
}

// SubmissionFor derives submission parameters from a job.
func SubmissionFor(j *job.Job, opts Options) SubmissionParams {
	return SubmissionParams{
		JobName:        j.Name,
		ResourceString: j.Resources.ResourceString(),
		LogDir:         j.LogDir,
		Cores:          j.Resources.Cores,
		BatchSize:      j.Resources.BatchSize,
		TasksFile:      j.TasksFile(),
		RunnerScript:   j.RunnerScript(),
		Setup:          nonBlank(opts.Setup),
		Teardown:       nonBlank(opts.Teardown),
	}
}

// RunnerFor derives runner parameters from a job.
func RunnerFor(j *job.Job, opts Options) RunnerParams {
	return RunnerParams{
		Binary:      opts.Binary,
		LedgerPath:  j.LedgerPath(),
		JournalMode: opts.JournalMode,
		BusyTimeout: opts.BusyTimeout,
	}
}

// RenderSubmission returns the submission script text.
func RenderSubmission(p SubmissionParams) (string, error) {
	if p.Cores < 1 || p.BatchSize < 1 {
		return "", fmt.Errorf("cores and batch size must be at least 1")
	}
	var buf bytes.Buffer
	if err := submissionTmpl.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render submission script: %w", err)
	}
	return buf.String(), nil
}

// RenderRunner returns the runner script text.
func RenderRunner(p RunnerParams) (string, error) {
	if strings.TrimSpace(p.Binary) == "" {
		return "", fmt.Errorf("runner binary is required")
	}
	if strings.TrimSpace(p.LedgerPath) == "" {
		return "", fmt.Errorf("ledger path is required")
	}
	var buf bytes.Buffer
	if err := runnerTmpl.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render runner script: %w", err)
	}
	return buf.String(), nil
}

// Write renders both scripts for j into its tmp directory and marks them
// executable. The directory must exist.
func Write(j *job.Job, opts Options) error {
	runner, err := RenderRunner(RunnerFor(j, opts))
	if err != nil {
		return err
	}
	submission, err := RenderSubmission(SubmissionFor(j, opts))
	if err != nil {
		return err
	}
	if err := writeExecutable(j.RunnerScript(), runner); err != nil {
		return err
	}
	return writeExecutable(j.SubmissionScript(), submission)
}

// WriteTasks writes one command per line so line N is task N.
func WriteTasks(j *job.Job) error {
	var b strings.Builder
	for _, c := range j.Commands {
		b.WriteString(c)
		b.WriteByte('\n')
	}
	// #nosec G306 -- read by scheduler workers under the submitting user
	if err := os.WriteFile(j.TasksFile(), []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write tasks file: %w", err)
	}
	return nil
}

func writeExecutable(path, content string) error {
	// #nosec G306 -- scripts are executed by the scheduler
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0755); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}

func nonBlank(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
