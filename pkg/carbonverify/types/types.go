// Package types holds the record types exchanged between the verification
// engine's components. Every cross-component payload is a named struct; the
// analysis pipeline never passes open-ended maps around.
package types

import (
	"time"
)

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat" db:"lat"`
	Lng float64 `json:"lng" db:"lng"`
}

// ProjectDescriptor describes a land-use carbon project submitted for
// verification. Immutable once submitted.
type ProjectDescriptor struct {
	ProjectID    string    `json:"project_id" db:"project_id"`
	Name         string    `json:"name" db:"name"`
	Location     GeoPoint  `json:"location"`
	ProjectType  string    `json:"project_type" db:"project_type"`
	AreaHectares float64   `json:"area_hectares" db:"area_hectares"`
	StartDate    time.Time `json:"start_date" db:"start_date"`
	Description  string    `json:"description,omitempty" db:"description"`
}

// ChangeDetection annotates a classification with change information
// relative to a historical baseline.
type ChangeDetection struct {
	ChangeDetected    bool    `json:"change_detected"`
	ChangeType        string  `json:"change_type"`
	ChangeConfidence  float64 `json:"change_confidence"`
	ChangeAreaPercent float64 `json:"change_area_percent"`
}

// ClassificationResult is the outcome of classifying a single satellite
// image. CoveragePercent is computed from raw pixel statistics and is
// independent of the classifier output. A non-empty Error marks a failed
// entry inside a batch; such entries carry zeroed scores.
type ClassificationResult struct {
	VegetationDetected bool               `json:"vegetation_detected"`
	PredictedClass     string             `json:"predicted_class,omitempty"`
	Confidence         float64            `json:"confidence"`
	CoveragePercent    float64            `json:"vegetation_coverage_percent"`
	ClassProbabilities map[string]float64 `json:"class_probabilities,omitempty"`
	Change             *ChangeDetection   `json:"change_detection,omitempty"`
	Timestamp          time.Time          `json:"analysis_timestamp"`
	Error              string             `json:"error,omitempty"`
}

// TimedClassification pairs a classification with its acquisition date for
// temporal analysis.
type TimedClassification struct {
	Date time.Time `json:"date"`
	ClassificationResult
}

// AreaAnalysis aggregates classifications across all images acquired for a
// project area.
type AreaAnalysis struct {
	VegetationDetected bool                   `json:"vegetation_detected"`
	Confidence         float64                `json:"confidence"`
	CoveragePercent    float64                `json:"vegetation_coverage_percent"`
	CO2PotentialTonnes float64                `json:"co2_sequestration_potential_tonnes_year"`
	ImagesAnalyzed     int                    `json:"images_analyzed"`
	Details            []ClassificationResult `json:"detailed_analysis,omitempty"`
	Timestamp          time.Time              `json:"analysis_timestamp"`
}

// Trend classifications produced by temporal analysis.
const (
	TrendIncreasing       = "increasing"
	TrendDecreasing       = "decreasing"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// TrendAnalysis summarizes how vegetation coverage evolved over a time
// series of classified images.
type TrendAnalysis struct {
	Trend           string  `json:"trend"`
	ChangeRate      float64 `json:"change_rate"`
	InitialCoverage float64 `json:"initial_coverage,omitempty"`
	FinalCoverage   float64 `json:"final_coverage,omitempty"`
	TotalChange     float64 `json:"total_change,omitempty"`
}

// TemporalAnalysis is the full result of a time-series study over an area.
type TemporalAnalysis struct {
	Samples        []TimedClassification `json:"temporal_analysis"`
	Trend          TrendAnalysis         `json:"vegetation_trend"`
	PeriodStart    time.Time             `json:"period_start"`
	PeriodEnd      time.Time             `json:"period_end"`
	ImagesAnalyzed int                   `json:"images_analyzed"`
}

// ConfidenceInterval is a two-sided interval around a point estimate.
type ConfidenceInterval struct {
	Lower float64 `json:"lower_bound"`
	Upper float64 `json:"upper_bound"`
	Level float64 `json:"confidence_level"`
}

// FactorImportance names one model feature and its relative importance.
// CO2Estimate.KeyFactors is sorted by descending importance.
type FactorImportance struct {
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
}

// CO2Estimate is the predictor's annual sequestration estimate for one
// project.
type CO2Estimate struct {
	AnnualTonnes   float64            `json:"annual_co2_tonnes"`
	Interval       ConfidenceInterval `json:"confidence_interval"`
	Feasibility    float64            `json:"feasibility"`
	KeyFactors     []FactorImportance `json:"key_factors,omitempty"`
	Recommendation string             `json:"recommendation"`
	Timestamp      time.Time          `json:"analysis_timestamp"`
}

// MonthlyCapture is one month of the seasonal decomposition of an annual
// estimate.
type MonthlyCapture struct {
	Month          int     `json:"month"`
	Tonnes         float64 `json:"co2_capture_tonnes"`
	SeasonalFactor float64 `json:"seasonal_factor"`
	Cumulative     float64 `json:"cumulative_co2"`
}

// CapturePrediction is the detailed per-month capture forecast for a
// project over a requested horizon.
type CapturePrediction struct {
	ProjectID      string             `json:"project_id"`
	AnnualTonnes   float64            `json:"predicted_co2_capture"`
	Interval       ConfidenceInterval `json:"confidence_interval"`
	Monthly        []MonthlyCapture   `json:"monthly_breakdown"`
	Factors        map[string]float64 `json:"factors_analysis,omitempty"`
	Feasibility    float64            `json:"feasibility_score"`
	Recommendation string             `json:"recommendation"`
	Timestamp      time.Time          `json:"analysis_timestamp"`
}

// LegitimacyAssessment is the external fraud scorer's verdict. Only the
// score and its [0,1] range are contractual.
type LegitimacyAssessment struct {
	LegitimacyScore float64   `json:"legitimacy_score"`
	RiskFactors     []string  `json:"risk_factors,omitempty"`
	Timestamp       time.Time `json:"analysis_timestamp"`
}

// VerificationResult is the combined verdict for one verification request.
// Created once per request and never mutated after construction.
type VerificationResult struct {
	RecordID           string               `json:"record_id" db:"record_id"`
	ProjectID          string               `json:"project_id" db:"project_id"`
	VerificationStatus bool                 `json:"verification_status" db:"verified"`
	ConfidenceScore    float64              `json:"confidence_score" db:"confidence_score"`
	CO2CaptureEstimate float64              `json:"co2_capture_estimate" db:"co2_estimate"`
	FraudRiskScore     float64              `json:"fraud_risk_score" db:"fraud_risk_score"`
	Satellite          AreaAnalysis         `json:"satellite_analysis"`
	Legitimacy         LegitimacyAssessment `json:"fraud_assessment"`
	Carbon             CO2Estimate          `json:"carbon_estimation"`
	Timestamp          time.Time            `json:"timestamp" db:"created_at"`
}
