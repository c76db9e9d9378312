package tasks

import (
	"math"
	"strconv"
)

const (
	// ProgressError is the fraction reported after a runtime step error.
	ProgressError = -1.0
	// ProgressDone is only ever reported once a pipeline has finished.
	ProgressDone = 1.0

	// maxPartial keeps an in-flight fraction strictly below ProgressDone.
	maxPartial = 0.9999
	// progressDigits is the number of characters kept by Truncate.
	progressDigits = 6
)

// Truncate cuts the plain decimal form of x to six characters and parses it
// back, so 0.123456789 becomes 0.1234. It never rounds.
func Truncate(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	s := strconv.FormatFloat(x, 'f', -1, 64)
	if len(s) > progressDigits {
		s = s[:progressDigits]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// partial is the truncated ratio of done to total for a pipeline that has
// not finished yet.
func partial(done, total float64) float64 {
	if total <= 0 || done <= 0 {
		return 0
	}
	return Truncate(math.Min(done/total, maxPartial))
}

// Progress is a point-in-time snapshot produced by a runner on demand.
type Progress interface {
	Task() string
	Fraction() float64
	// Terminal reports that no later snapshot will differ: the pipeline
	// completed, failed, or was stopped.
	Terminal() bool
}

type ProgressFunc func() Progress

// TransferProgress describes a single-file pull.
type TransferProgress struct {
	ProjectName string  `json:"projectName"`
	Progress    float64 `json:"progress"`
	Filename    string  `json:"filename"`
	Path        string  `json:"path"`
	SrcByte     int64   `json:"src_byte"`
	DestByte    int64   `json:"dest_byte"`
	Stopped     bool    `json:"stopped"`
}

func (p TransferProgress) Task() string      { return p.ProjectName }
func (p TransferProgress) Fraction() float64 { return p.Progress }
func (p TransferProgress) Terminal() bool    { return terminal(p.Progress, p.Stopped) }

// DecryptProgress describes the migrate/export pipeline.
type DecryptProgress struct {
	ProjectName string  `json:"projectName"`
	Progress    float64 `json:"progress"`
	Filename    string  `json:"filename"`
	StepName    string  `json:"step_name"`
	Path        string  `json:"path"`
	Byte        int64   `json:"byte"`
	Stopped     bool    `json:"stopped"`
}

func (p DecryptProgress) Task() string      { return p.ProjectName }
func (p DecryptProgress) Fraction() float64 { return p.Progress }
func (p DecryptProgress) Terminal() bool    { return terminal(p.Progress, p.Stopped) }

// ExtractProgress describes the bulk resource pipeline. Step is -1 once the
// pipeline has stopped, whether complete or not.
type ExtractProgress struct {
	ProjectName string  `json:"projectName"`
	Progress    float64 `json:"progress"`
	Folder      string  `json:"folder"`
	Step        int     `json:"step"`
	StepName    string  `json:"step_name"`
	Path        string  `json:"path"`
	Byte        int64   `json:"byte"`
	Current     int64   `json:"current"`
	Stopped     bool    `json:"stopped"`
}

func (p ExtractProgress) Task() string      { return p.ProjectName }
func (p ExtractProgress) Fraction() float64 { return p.Progress }
func (p ExtractProgress) Terminal() bool    { return terminal(p.Progress, p.Stopped) }

func terminal(fraction float64, stopped bool) bool {
	return stopped || fraction == ProgressDone || fraction == ProgressError
}
