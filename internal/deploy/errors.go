package deploy

import "fmt"

// Stage names the deployment step that failed.
type Stage string

const (
	StageInstall Stage = "install"
	StageLaunch  Stage = "launch"
	StageDetect  Stage = "detect"
)

// DeploymentError reports a failure to install or launch an artifact.
type DeploymentError struct {
	Stage  Stage
	Output string
	Err    error
}

func (e *DeploymentError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Stage)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

func (e *DeploymentError) Unwrap() error {
	return e.Err
}
