package plotter

import "fmt"

// StatusState is the coarse plotting state shown to operators.
type StatusState string

const (
	StatusIdle     StatusState = "idle"
	StatusPlotting StatusState = "plotting"
	StatusError    StatusState = "error"
)

// Status describes what the plotter is doing right now.
type Status struct {
	State StatusState `json:"state"`

	// FilePath names the output being written. Batches show the first path
	// and the number of additional outputs.
	FilePath string `json:"filePath,omitempty"`

	Progress  float64 `json:"progress,omitempty"`
	SpeedMiBs float64 `json:"speedMiBs,omitempty"`
	Message   string  `json:"message,omitempty"`
}

func idleStatus() Status {
	return Status{State: StatusIdle}
}

func plottingStatus(paths []string) Status {
	return Status{State: StatusPlotting, FilePath: statusPath(paths)}
}

func errorStatus(err error) Status {
	return Status{State: StatusError, Message: err.Error()}
}

func statusPath(paths []string) string {
	switch len(paths) {
	case 0:
		return ""
	case 1:
		return paths[0]
	}
	return fmt.Sprintf("%s (+%d more)", paths[0], len(paths)-1)
}
