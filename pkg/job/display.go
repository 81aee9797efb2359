package job

import (
	"fmt"
	"strings"
	"time"
)

// previewEdge is how many commands are shown from each end of a long list.
const previewEdge = 5

// String renders the multi-line summary shown before submission.
func (j *Job) String() string {
	lines := []string{
		fmt.Sprintf("Psub: %s", j.Name),
		fmt.Sprintf("Resources to request: %s", j.Resources.ResourceString()),
		fmt.Sprintf("%d commands will be submitted:", len(j.Commands)),
	}
	if j.Resources.BatchSize > 1 {
		lines = append(lines, fmt.Sprintf("Jobs per batch: %d", j.Resources.BatchSize))
	}
	lines = append(lines, PreviewCommands(j.Commands)...)
	return strings.Join(lines, "\n")
}

// PreviewCommands returns all commands, or the first and last five around a
// "..." marker when there are more than ten.
func PreviewCommands(commands []string) []string {
	if len(commands) <= 2*previewEdge {
		return append([]string(nil), commands...)
	}
	out := make([]string, 0, 2*previewEdge+1)
	out = append(out, commands[:previewEdge]...)
	out = append(out, "...")
	out = append(out, commands[len(commands)-previewEdge:]...)
	return out
}

// SingleLine is the compact one-row form used in history listings.
func (j *Job) SingleLine() string {
	submitted := "-"
	if j.SubmitTime != nil {
		submitted = j.SubmitTime.Local().Format(time.DateTime)
	}
	first := ""
	if len(j.Commands) > 0 {
		first = j.Commands[0]
	}
	return fmt.Sprintf("%s | %s | %d tasks | %s", submitted, j.Name, len(j.Commands), first)
}
