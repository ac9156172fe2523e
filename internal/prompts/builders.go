package prompts

// System prompt ids
const (
	SystemDefault   = "default"
	SystemReAct     = "react"
	SystemPlanSolve = "plan_solve"
	SystemRetry     = "retry"
)

// SingleShotData holds template variables for the single-shot prompt.
type SingleShotData struct {
	Repo        string
	Title       string
	Problem     string
	CodeContext string
}

// ReActData holds template variables for the first tool-loop message.
type ReActData struct {
	Repo        string
	Problem     string
	FileListing string
}

// PlanSolveData holds template variables for the plan phase.
type PlanSolveData struct {
	Repo          string
	Problem       string
	RelevantFiles string
	GrepContext   string
}

// RetryData holds template variables for single-file retry prompts.
type RetryData struct {
	Repo        string
	Problem     string
	FilePath    string
	FileContent string
}

// System returns the system prompt with the given id.
func (l *Loader) System(id string) (string, error) {
	return l.Execute("system/"+id+".md", nil)
}

func (l *Loader) BuildSingleShot(data SingleShotData) (string, error) {
	return l.Execute("user/single_shot.md", data)
}

func (l *Loader) BuildReAct(data ReActData) (string, error) {
	return l.Execute("user/react.md", data)
}

func (l *Loader) BuildPlan(data PlanSolveData) (string, error) {
	return l.Execute("user/plan_solve.md", data)
}

// BuildSolve renders the phase-two request that carries the code excerpt.
func (l *Loader) BuildSolve(codeContext string) (string, error) {
	return l.Execute("user/plan_solve_followup.md", struct{ CodeContext string }{codeContext})
}

func (l *Loader) BuildRetry(data RetryData) (string, error) {
	return l.Execute("user/retry.md", data)
}

// BuildRetryMinimal renders the last-resort retry prompt (no file context).
func (l *Loader) BuildRetryMinimal(repo, problem string) (string, error) {
	return l.Execute("user/retry_minimal.md", RetryData{Repo: repo, Problem: problem})
}
