package types

// Image is one decoded holography recording, stored as a flat pixel buffer
// in row-major order.
type Image struct {
	Width  int
	Height int
	Pix    []float64
}

// Area returns the number of pixels.
func (im *Image) Area() int { return im.Width * im.Height }

// Record is one particle capture decoded from a source archive. A capture
// carries event metadata, fluorescence measurement vectors, per-channel
// recording properties (geometry descriptors such as area and solidity),
// and two holography recordings.
type Record struct {
	EventID      string
	Metadata     map[string]any
	Fluorescence map[string][]float64
	// Properties holds one map per acquisition channel. Quality filters
	// evaluate against every channel's map.
	Properties []map[string]float64
	Rec0       *Image
	Rec1       *Image
	Label      string
}

// RecordBatch is the extraction stage's output payload: a bounded-size
// chunk of records processed together for throughput.
type RecordBatch struct {
	Records []*Record
}

// Len returns the number of records in the batch.
func (b *RecordBatch) Len() int { return len(b.Records) }

// ModelInput is the shape-checked input handed to a classification
// function. Each slice is indexed by record within the batch.
type ModelInput struct {
	// Rec0 and Rec1 hold one flat pixel vector per record, normalized to
	// [0, 1). Nil when the corresponding channel is not configured.
	Rec0 [][]float64
	Rec1 [][]float64
	// Fluorescence maps configured output names to one vector per record.
	Fluorescence map[string][][]float64
}

// Len returns the number of records in the input.
func (in *ModelInput) Len() int {
	if in.Rec0 != nil {
		return len(in.Rec0)
	}
	if in.Rec1 != nil {
		return len(in.Rec1)
	}
	for _, v := range in.Fluorescence {
		return len(v)
	}
	return 0
}

// Prediction is the structured output of a post-processing function:
// per-record probability vectors with the derived label and confidence.
type Prediction struct {
	// Probabilities holds one probability-like vector per record.
	Probabilities [][]float64
	// Labels holds the predicted category index per record.
	Labels []int
	// Confidences holds the score backing each label.
	Confidences []float64
}

// Len returns the number of records covered by the prediction.
func (p *Prediction) Len() int { return len(p.Labels) }

// InferenceResult is the inference stage's output payload: the prediction
// for one batch, alongside the record identities and retained metadata
// needed to attribute each row downstream.
type InferenceResult struct {
	EventIDs   []string
	Metadata   []map[string]any
	Prediction *Prediction
}

// Len returns the number of records covered by the result.
func (r *InferenceResult) Len() int { return len(r.EventIDs) }
