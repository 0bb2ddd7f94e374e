package domain

// Timer is a live countdown for one timer step. It is never persisted; the
// engine rebuilds timers from the schedule every time a batch is opened.
type Timer struct {
	ID            string           `json:"id"`
	BatchID       string           `json:"batch_id"`
	StepID        string           `json:"step_id"`
	Name          string           `json:"name"`
	First         string           `json:"first"` // id of the first step of the concurrent block
	Duration      int              `json:"duration"`
	SplitInterval int              `json:"split_interval,omitempty"`
	TimeRemaining int              `json:"time_remaining"`
	IsRunning     bool             `json:"is_running"`
	Settings      ProgressSettings `json:"settings"`
}

// TotalSeconds is the nominal length of the timer.
func (t *Timer) TotalSeconds() int {
	return t.Duration * 60
}

// BatchTimer groups the timers of one batch.
type BatchTimer struct {
	BatchID string   `json:"batch_id"`
	Timers  []*Timer `json:"timers"`
}

// ProgressSettings is the render state of a progress circle.
type ProgressSettings struct {
	Width  int            `json:"width"`
	Height int            `json:"height"`
	Circle CircleSettings `json:"circle"`
	Text   TextSettings   `json:"text"`
}

type CircleSettings struct {
	Radius           float64 `json:"radius"`
	OriginX          float64 `json:"origin_x"`
	OriginY          float64 `json:"origin_y"`
	StrokeWidth      float64 `json:"stroke_width"`
	StrokeDasharray  string  `json:"stroke_dasharray"`
	StrokeDashoffset float64 `json:"stroke_dashoffset"`
}

type TextSettings struct {
	X        string `json:"x"`
	Y        string `json:"y"`
	FontSize string `json:"font_size"`
	Content  string `json:"content"`
}
