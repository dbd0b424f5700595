package cli

// ExitError carries a process exit code and an optional message printed
// to stderr by main.
type ExitError struct {
	code int
	msg  string
}

func NewExitError(code int, msg string) *ExitError {
	return &ExitError{code: code, msg: msg}
}

func (e *ExitError) Error() string { return e.msg }

func (e *ExitError) Code() int { return e.code }

func (e *ExitError) Message() string { return e.msg }
