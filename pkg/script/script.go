// Package script implements the line-oriented interpreter that drives
// boot scripts: comments, tag-based goto/gosub/return, and an exit-flag
// word a dispatched command can raise to unwind the whole call stack.
package script

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// MaxReturnDepth bounds the gosub call stack, matching the original's
// fixed-size frame array.
const MaxReturnDepth = 15

// ErrReturnStackFull is returned when gosub is attempted with the return
// stack already at MaxReturnDepth.
var ErrReturnStackFull = fmt.Errorf("script: return stack full (max %d)", MaxReturnDepth)

// ErrReturnStackEmpty is returned when return is attempted with an empty
// return stack.
var ErrReturnStackEmpty = fmt.Errorf("script: return with nothing to return to")

// ExitFlag mirrors the original's exit-flags bitmask.
type ExitFlag uint8

const (
	ExitScript ExitFlag = 1 << iota
	ExitAllScripts
	RemoveScript
	ExecuteAfterExit
)

// Dispatcher runs one already-expanded command line and reports its
// status. The CLI command table implements this.
type Dispatcher interface {
	Dispatch(line string) error
}

// Source reads the lines of a single script file and supports seeking
// back to the start for tag search, the way the original rewinds the
// file on goto/gosub.
type Source interface {
	io.Reader
	io.Seeker
}

type frame struct {
	src    Source
	name   string
	reader *bufio.Reader
}

// Runner executes one or more nested script files.
type Runner struct {
	logger     logrus.FieldLogger
	dispatcher Dispatcher
	stack      []frame
	gotoTag    string
	exitFlags  ExitFlag
	afterExit  string
	verbose    bool
}

// NewRunner builds a Runner bound to the given command dispatcher.
func NewRunner(d Dispatcher, logger logrus.FieldLogger) *Runner {
	return &Runner{dispatcher: d, logger: logger}
}

// SetVerbose toggles per-line echo, matching SCRIPTVERBOSE.
func (r *Runner) SetVerbose(v bool) { r.verbose = v }

// Run executes name/src as the outermost script. A command that fails
// stops the run and its error is returned, unless the line began with
// the "-" ignore-error prefix; goto/gosub without a tag, gosub on a full
// return stack and return on an empty one also stop the run with an
// error.
func (r *Runner) Run(name string, src Source) error {
	r.push(name, src)
	defer func() { r.stack = nil }()

	for len(r.stack) > 0 {
		top := &r.stack[len(r.stack)-1]
		line, err := top.reader.ReadString('\n')
		if err == io.EOF && line == "" {
			r.pop()
			continue
		}
		line = strings.TrimRight(line, "\r\n")

		if r.gotoTag != "" {
			if matchesTag(line, r.gotoTag) {
				r.gotoTag = ""
			} else {
				continue
			}
		}

		if err := r.runLine(line); err != nil {
			return err
		}

		if r.exitFlags != 0 {
			if r.exitFlags&ExitAllScripts != 0 {
				r.stack = nil
				break
			}
			r.pop()
			r.exitFlags = 0
		}
	}

	if len(r.stack) != 0 {
		r.logger.Warn("script: return-stack depth nonzero at top-level exit")
	}
	return nil
}

func (r *Runner) runLine(line string) error {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return nil
	}

	ignoreError := strings.HasPrefix(trimmed, "-")
	if ignoreError {
		trimmed = strings.TrimSpace(trimmed[1:])
	}

	if r.verbose {
		r.logger.WithField("line", trimmed).Debug("script: executing")
	}

	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "goto":
		if len(fields) < 2 {
			return fmt.Errorf("script: goto requires a tag")
		}
		r.gotoTag = fields[1]
		return nil
	case "gosub":
		if len(fields) < 2 {
			return fmt.Errorf("script: gosub requires a tag")
		}
		if len(r.stack) >= MaxReturnDepth {
			return ErrReturnStackFull
		}
		top := &r.stack[len(r.stack)-1]
		offset, _ := top.src.Seek(0, io.SeekCurrent)
		r.stack = append(r.stack, frame{src: top.src, name: top.name, reader: top.reader})
		_ = offset
		r.gotoTag = fields[1]
		return nil
	case "return":
		if len(r.stack) < 2 {
			return ErrReturnStackEmpty
		}
		r.pop()
		return nil
	case "exit":
		r.exitFlags = ExitScript
		for _, a := range fields[1:] {
			switch a {
			case "-a":
				r.exitFlags |= ExitAllScripts
			case "-e":
				r.exitFlags |= ExecuteAfterExit
			}
		}
		return nil
	default:
		err := r.dispatcher.Dispatch(trimmed)
		if err != nil && !ignoreError {
			r.logger.WithField("line", trimmed).WithError(err).Warn("script: command failed")
			return fmt.Errorf("script: %s: %w", trimmed, err)
		}
		return nil
	}
}

func (r *Runner) push(name string, src Source) {
	r.stack = append(r.stack, frame{src: src, name: name, reader: bufio.NewReader(src)})
}

func (r *Runner) pop() {
	if len(r.stack) == 0 {
		return
	}
	r.stack = r.stack[:len(r.stack)-1]
}

// matchesTag reports whether line is a "# TAG" or "# TAG:" marker for tag.
func matchesTag(line, tag string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return false
	}
	candidate := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
	candidate = strings.TrimSuffix(candidate, ":")
	return candidate == tag
}
