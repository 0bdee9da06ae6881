package service

import "TickPilot/internal/domain/models"

// StochPoint is one Stochastic oscillator sample.
type StochPoint struct {
	K float64
	D float64
}

// Indicators is the technical-indicator library the pipeline depends on.
// Every function returns only fully warmed-up samples, oldest first.
type Indicators interface {
	Stochastic(high, low, close []float64, period, signalPeriod int) []StochPoint
	BollingerBands(values []float64, period int, stdDev float64) []models.Band
	EMA(values []float64, period int) []float64
}
