// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	nbMaxIter   = 100
	nbTolerance = 1e-8
	nbMaxBeta   = 30
	nbRidge     = 1e-6
)

// nbFit is a negative binomial GLM fit with log link and fixed
// dispersion.
type nbFit struct {
	Beta []float64
	// Standard errors of Beta, from the inverse of the Fisher
	// information.
	SE       []float64
	Mu       []float64
	Hat      []float64
	Deviance float64
	Iter     int
	// False if IRLS hit the iteration limit, the coefficient bound, or
	// a singular information matrix.
	Converged bool
}

// fitNB fits y ~ X with offset by iteratively reweighted least
// squares. X is given as rows (one per sample); alpha is the NB
// dispersion.
func fitNB(y []float64, x [][]float64, offset []float64, alpha float64) *nbFit {
	m, p := len(y), len(x[0])
	fit := &nbFit{
		Beta: make([]float64, p),
		SE:   make([]float64, p),
		Mu:   make([]float64, m),
		Hat:  make([]float64, m),
	}
	for i := range fit.SE {
		fit.SE[i] = math.NaN()
	}

	// Start from a least squares fit of log normalized counts.
	z := make([]float64, m)
	w := make([]float64, m)
	for j := range y {
		z[j] = math.Log(y[j]/math.Exp(offset[j]) + 0.1)
		w[j] = 1
	}
	beta, ok := weightedSolve(x, w, z)
	if !ok {
		return fit
	}
	fit.Beta = beta
	fit.predict(x, offset)
	dev := nbDeviance(y, fit.Mu, alpha)

	for fit.Iter = 1; fit.Iter <= nbMaxIter; fit.Iter++ {
		for j, mu := range fit.Mu {
			eta := math.Log(mu)
			w[j] = mu / (1 + alpha*mu)
			z[j] = eta - offset[j] + (y[j]-mu)/mu
		}
		beta, ok := weightedSolve(x, w, z)
		if !ok {
			return fit
		}
		for _, b := range beta {
			if math.Abs(b) > nbMaxBeta || math.IsNaN(b) {
				return fit
			}
		}
		fit.Beta = beta
		fit.predict(x, offset)
		newDev := nbDeviance(y, fit.Mu, alpha)
		if math.Abs(newDev-dev)/(math.Abs(newDev)+0.1) < nbTolerance {
			fit.Deviance = newDev
			fit.Converged = true
			break
		}
		dev = newDev
	}
	if !fit.Converged {
		return fit
	}

	// Covariance and hat values at the final estimate.
	for j, mu := range fit.Mu {
		w[j] = mu / (1 + alpha*mu)
	}
	info := information(x, w)
	var chol mat.Cholesky
	if !chol.Factorize(info) {
		fit.Converged = false
		return fit
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		fit.Converged = false
		return fit
	}
	for i := range fit.SE {
		fit.SE[i] = math.Sqrt(cov.At(i, i))
	}
	for j, row := range x {
		xv := mat.NewVecDense(p, row)
		fit.Hat[j] = w[j] * mat.Inner(xv, &cov, xv)
	}
	return fit
}

func (fit *nbFit) predict(x [][]float64, offset []float64) {
	for j, row := range x {
		eta := offset[j]
		for i, b := range fit.Beta {
			eta += row[i] * b
		}
		fit.Mu[j] = math.Max(math.Exp(eta), 1e-300)
	}
}

// information returns XᵀWX plus a small ridge on the diagonal.
func information(x [][]float64, w []float64) *mat.SymDense {
	p := len(x[0])
	a := mat.NewSymDense(p, nil)
	for j, row := range x {
		for r := 0; r < p; r++ {
			for c := r; c < p; c++ {
				a.SetSym(r, c, a.At(r, c)+w[j]*row[r]*row[c])
			}
		}
	}
	for r := 0; r < p; r++ {
		a.SetSym(r, r, a.At(r, r)+nbRidge)
	}
	return a
}

// weightedSolve returns β minimizing Σ w_j (z_j − x_jβ)².
func weightedSolve(x [][]float64, w, z []float64) ([]float64, bool) {
	p := len(x[0])
	rhs := mat.NewVecDense(p, nil)
	for j, row := range x {
		for i := 0; i < p; i++ {
			rhs.SetVec(i, rhs.AtVec(i)+w[j]*row[i]*z[j])
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(information(x, w)) {
		return nil, false
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, rhs); err != nil {
		return nil, false
	}
	out := make([]float64, p)
	for i := range out {
		out[i] = beta.AtVec(i)
	}
	return out, true
}

// nbDeviance is twice the log-likelihood difference between the
// saturated model and the fitted means. With alpha 0 it is the
// Poisson deviance.
func nbDeviance(y, mu []float64, alpha float64) float64 {
	dev := 0.0
	for j := range y {
		yj, mj := y[j], mu[j]
		var d float64
		if yj > 0 {
			d = yj * math.Log(yj/mj)
		}
		if alpha > 0 {
			d -= (yj + 1/alpha) * (math.Log1p(alpha*yj) - math.Log1p(alpha*mj))
		} else {
			d -= yj - mj
		}
		dev += 2 * d
	}
	return dev
}

// cooksDistances returns Cook's distance for each sample of a
// converged fit with p coefficients.
func cooksDistances(fit *nbFit, y []float64, alpha float64) []float64 {
	p := float64(len(fit.Beta))
	out := make([]float64, len(y))
	for j, mu := range fit.Mu {
		variance := mu + alpha*mu*mu
		h := fit.Hat[j]
		// a hat value this close to 1 means the sample determines
		// its own fitted value
		if variance <= 0 || h > 1-1e-4 {
			out[j] = math.NaN()
			continue
		}
		r := y[j] - mu
		out[j] = r * r / variance / p * h / ((1 - h) * (1 - h))
	}
	return out
}
