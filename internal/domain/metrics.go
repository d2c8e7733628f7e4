package domain

// Metrics summarizes one detection run.
type Metrics struct {
	TotalTransactions int     `json:"totalTransactions"`
	FlaggedCount      int     `json:"flaggedCount"`
	FlaggedPercentage float64 `json:"flaggedPercentage"`
	CleanCount        int     `json:"cleanCount"`
	CleanPercentage   float64 `json:"cleanPercentage"`

	// Computed over flagged transactions only.
	AverageRiskScore      float64     `json:"averageRiskScore"`
	MaxRiskScore          int         `json:"maxRiskScore"`
	RiskScoreDistribution map[int]int `json:"riskScoreDistribution"`

	// ViolationsByRule counts every violation instance.
	ViolationsByRule map[RuleID]int `json:"violationsByRule"`

	// GroundTruth is nil unless every transaction carried a fraud label.
	GroundTruth *GroundTruthMetrics `json:"groundTruth,omitempty"`
}

// HasGroundTruth reports whether detection quality could be measured.
func (m *Metrics) HasGroundTruth() bool {
	return m.GroundTruth != nil
}

// GroundTruthMetrics compares flags against fraud labels.
type GroundTruthMetrics struct {
	ActualFraudCount int `json:"actualFraudCount"`
	TruePositives    int `json:"truePositives"`
	FalsePositives   int `json:"falsePositives"`
	FalseNegatives   int `json:"falseNegatives"`
	TrueNegatives    int `json:"trueNegatives"`

	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1Score   float64 `json:"f1Score"`
	Accuracy  float64 `json:"accuracy"`
}

// Total returns the number of transactions in the confusion matrix.
func (g *GroundTruthMetrics) Total() int {
	return g.TruePositives + g.FalsePositives + g.FalseNegatives + g.TrueNegatives
}
