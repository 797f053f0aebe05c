package worker

// Robocopy exit codes are a bitmask: 1 = files copied, 2 = extra files at
// destination, 4 = mismatches resolved, 8 = copy failures, 16 = fatal error.
// Anything below 8 means the copy itself succeeded.
const failureBit = 8

// ExitClass is the orchestrator's view of a copy-tool exit code.
type ExitClass int

const (
	ExitClean ExitClass = iota
	ExitWarning
	ExitFailure
)

func (c ExitClass) String() string {
	switch c {
	case ExitClean:
		return "clean"
	case ExitWarning:
		return "warning"
	default:
		return "failure"
	}
}

// Classify maps a copy-tool exit code to its class. Codes 1-7 are
// success-with-warnings; 8 and above are failures eligible for retry.
func Classify(code int) ExitClass {
	switch {
	case code == 0:
		return ExitClean
	case code > 0 && code < failureBit:
		return ExitWarning
	default:
		return ExitFailure
	}
}

// Spec describes one copy-tool invocation.
type Spec struct {
	Source  string
	Dest    string
	Recurse bool

	// ExtraFlags come from configuration and are appended verbatim.
	ExtraFlags []string
}

// BuildArgs produces the robocopy argument list for a spec. Internal retries
// are disabled (/R:0 /W:0): retry policy belongs to the job manager, not the
// copy tool.
func BuildArgs(spec Spec) []string {
	args := []string{spec.Source, spec.Dest}
	if spec.Recurse {
		args = append(args, "/E")
	} else {
		args = append(args, "/LEV:1")
	}
	args = append(args, "/COPY:DAT", "/R:0", "/W:0", "/NP")
	args = append(args, spec.ExtraFlags...)
	return args
}
