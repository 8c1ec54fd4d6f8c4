package app

import (
	"strings"
	"time"

	gh "github.com/rancher/git-pull-indep/internal/github"
	"github.com/rancher/git-pull-indep/internal/orchestrator"
	"github.com/rancher/git-pull-indep/internal/status"
)

// buildRecord assembles the status record from whatever the run got to. A
// nil runErr is a success; warnings are appended to the message either way.
func buildRecord(result orchestrator.Result, runErr error, runID string, now time.Time) status.Record {
	rec := status.Record{
		Status:            status.Success,
		Timestamp:         now,
		RepositoryChanged: repositoryChanged(result),
		SubmoduleUpdates:  result.Submodules.Updated,
		Stash:             string(result.Stash),
		RunID:             runID,
		Message:           status.SuccessMessage,
	}
	if rec.Stash == "" {
		rec.Stash = string(orchestrator.StashNone)
	}

	if runErr != nil {
		rec.Status = status.Failure
		rec.Message = runErr.Error()
	}
	if len(result.Warnings) > 0 {
		rec.Message = strings.Join(append([]string{rec.Message}, result.Warnings...), "\n")
	}

	if result.HeadKnown {
		rec.Commit = status.Commit{
			Hash:   result.Head.Hash,
			Title:  result.Head.Title,
			Branch: result.Head.Branch,
		}
	}
	return rec
}

func repositoryChanged(result orchestrator.Result) string {
	if result.Pull.Status != orchestrator.PullUpdated {
		return status.ChangedNo
	}
	if result.Stash.Stashed() {
		return status.ChangedYesWithStashes
	}
	return status.ChangedYes
}

// commitStatus mirrors rec as a GitHub commit status on its commit.
func commitStatus(rec status.Record) gh.CommitStatus {
	st := gh.CommitStatus{
		SHA:     rec.Commit.Hash,
		State:   gh.StateSuccess,
		Context: gh.StatusContext,
	}
	if rec.Status == status.Failure {
		st.State = gh.StateFailure
		st.Description = strings.ReplaceAll(strings.TrimSpace(rec.Message), "\n", " | ")
		return st
	}
	st.Description = "Repository Changed: " + rec.RepositoryChanged
	if len(rec.SubmoduleUpdates) > 0 {
		st.Description += "; submodules: " + strings.Join(rec.SubmoduleUpdates, ", ")
	}
	return st
}
