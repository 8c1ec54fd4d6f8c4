// Package status models the durable result of a run and reads and writes the
// line-oriented status file that successor processes consume.
package status

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// FileName is the status file written to the repository root.
	FileName = ".git_pull_indep_status"
	// LogFileName is the append-only run log kept next to the status file.
	LogFileName = ".git_pull_indep.log"

	// Unknown fills commit fields that could not be read.
	Unknown = "unknown"

	// SuccessMessage is the Message of a successful run without warnings.
	SuccessMessage = "All operations completed successfully"
)

// Status is the terminal state of a run.
type Status string

const (
	Success Status = "SUCCESS"
	Failure Status = "FAILURE"
)

// Change values for the Repository Changed key.
const (
	ChangedNo             = "No"
	ChangedYes            = "Yes"
	ChangedYesWithStashes = "Yes (with stashes)"
)

const (
	keyStatus     = "Status"
	keyTimestamp  = "Timestamp"
	keyChanged    = "Repository Changed"
	keySubmodules = "Submodule Updates"
	keyStash      = "Stash"
	keyRunID      = "Run ID"
	keyMessage    = "Message"
	keyCommit     = "Current Commit"
	keyHash       = "Hash"
	keyTitle      = "Title"
	keyBranch     = "Branch"

	noSubmodules = "None"
)

// Commit identifies the commit checked out at the end of a run.
type Commit struct {
	Hash   string
	Title  string
	Branch string
}

// Record is the terminal artifact of a run. Exactly one is written per invocation.
type Record struct {
	Status            Status
	Timestamp         time.Time
	RepositoryChanged string
	SubmoduleUpdates  []string
	Stash             string
	RunID             string
	Message           string
	Commit            Commit
}

// Render serializes the record in its line-oriented key: value form.
func (r Record) Render() []byte {
	var buf bytes.Buffer

	changed := r.RepositoryChanged
	if changed == "" {
		changed = ChangedNo
	}
	submodules := noSubmodules
	if len(r.SubmoduleUpdates) > 0 {
		submodules = strings.Join(r.SubmoduleUpdates, ", ")
	}
	stash := r.Stash
	if stash == "" {
		stash = "none"
	}

	writeLine(&buf, keyStatus, string(r.Status))
	writeLine(&buf, keyTimestamp, r.Timestamp.Local().Format(time.RFC3339Nano))
	writeLine(&buf, keyChanged, changed)
	writeLine(&buf, keySubmodules, submodules)
	writeLine(&buf, keyStash, stash)
	if r.RunID != "" {
		writeLine(&buf, keyRunID, r.RunID)
	}
	writeLine(&buf, keyMessage, singleLine(r.Message))
	buf.WriteString("\n")
	buf.WriteString(keyCommit + ":\n")
	writeLine(&buf, keyHash, orUnknown(r.Commit.Hash))
	writeLine(&buf, keyTitle, orUnknown(singleLine(r.Commit.Title)))
	writeLine(&buf, keyBranch, orUnknown(r.Commit.Branch))

	return buf.Bytes()
}

func writeLine(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\n")
}

// singleLine folds multi-line text so every value occupies exactly one line.
func singleLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " | ")
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return Unknown
	}
	return value
}

// Parse reads a record rendered by Render. Unknown keys are ignored so newer
// writers stay readable.
func Parse(r io.Reader) (Record, error) {
	var rec Record
	inCommit := false
	seenStatus := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Record{}, fmt.Errorf("line %d: missing ':' in %q", lineNo, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if key == keyCommit {
			inCommit = true
			continue
		}

		if inCommit {
			switch key {
			case keyHash:
				rec.Commit.Hash = value
			case keyTitle:
				rec.Commit.Title = value
			case keyBranch:
				rec.Commit.Branch = value
			}
			continue
		}

		switch key {
		case keyStatus:
			switch Status(value) {
			case Success, Failure:
				rec.Status = Status(value)
				seenStatus = true
			default:
				return Record{}, fmt.Errorf("line %d: unknown status %q", lineNo, value)
			}
		case keyTimestamp:
			ts, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return Record{}, fmt.Errorf("line %d: parse timestamp: %w", lineNo, err)
			}
			rec.Timestamp = ts
		case keyChanged:
			rec.RepositoryChanged = value
		case keySubmodules:
			if value != noSubmodules && value != "" {
				for _, name := range strings.Split(value, ",") {
					rec.SubmoduleUpdates = append(rec.SubmoduleUpdates, strings.TrimSpace(name))
				}
			}
		case keyStash:
			rec.Stash = value
		case keyRunID:
			rec.RunID = value
		case keyMessage:
			rec.Message = value
		}
	}
	if err := scanner.Err(); err != nil {
		return Record{}, fmt.Errorf("read status: %w", err)
	}
	if !seenStatus {
		return Record{}, fmt.Errorf("status key missing")
	}
	return rec, nil
}
