// Package sqp implements the outer loop of a nonlinear model-predictive
// control solver based on sequential quadratic programming with multiple
// shooting: horizon discretization, parallel LQ transcription of dynamics,
// cost and constraints, structured QP solution, a filter line search, and
// synthesis of the resulting primal trajectory and feedback controller.
package sqp
