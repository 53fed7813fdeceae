// Package linalg collects small numeric helpers shared by the
// distribution and conjugacy-sampler packages, built on top of
// gonum/mat's Cholesky factorization. Biips's C++ original used
// boost::numeric::ublas's cholesky_factorize/cholesky_invert directly
// inside each conjugate sampler (see
// BiipsBase/src/samplers/ConjugateMNormal.cpp); this package is the Go
// generalization of that pattern into one place both the
// distmv-backed MVNormal density and the node samplers can call.
package linalg

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// ErrNotPSD is returned when a matrix fails Cholesky factorization,
// i.e. is not positive-semidefinite to working precision.
var ErrNotPSD = errors.New("matrix is not positive-semidefinite")

// InvertSPD returns the inverse of a symmetric positive-definite
// matrix via its Cholesky factorization, or ErrNotPSD if the matrix is
// not positive-definite.
func InvertSPD(sym mat.Symmetric) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil, ErrNotPSD
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// IsSPD reports whether sym is symmetric positive-definite.
func IsSPD(sym mat.Symmetric) bool {
	var chol mat.Cholesky
	return chol.Factorize(sym)
}

// IsSymmetric reports whether the dense matrix's off-diagonal entries
// match their transpose within tol, used by scalar/multivariate Normal
// parameter checks that must reject non-symmetric precision matrices
// (spec tolerance: 1e-7).
func IsSymmetric(n int, at func(i, j int) float64, tol float64) bool {
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if diff := at(i, j) - at(j, i); diff > tol || diff < -tol {
				return false
			}
		}
	}
	return true
}
