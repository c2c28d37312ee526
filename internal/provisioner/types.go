package provisioner

import (
	"errors"
	"fmt"
)

// ErrNameTaken means another in-flight request already holds the remote name.
var ErrNameTaken = errors.New("requested name is already being provisioned")

// StepError reports which remote step failed. The deployment row, if one was
// created, is in failed state with the step's error message recorded.
type StepError struct {
	Step         string
	DeploymentID string
	Err          error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provisioning step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
