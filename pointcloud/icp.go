package pointcloud

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/annotator/spatialmath"
)

// minCorrespondences is the fewest point pairs that determine a rigid transform.
const minCorrespondences = 3

// RegistrationInfo describes the outcome of a registration.
type RegistrationInfo struct {
	Iterations int
	Converged  bool
	// Fitness is the fraction of source points with a target point within the threshold.
	Fitness float64
	// InlierRMSE is the root mean square distance of those correspondences.
	InlierRMSE float64
	// MeanError is the mean distance of those correspondences.
	MeanError float64
}

// A Refiner aligns a source cloud onto a target cloud starting from an initial transform. The
// returned pose maps source points into the target frame and includes the initial transform.
type Refiner interface {
	Refine(
		ctx context.Context,
		source, target PointCloud,
		initial spatialmath.Pose,
		threshold float64,
	) (spatialmath.Pose, *RegistrationInfo, error)
}

// ICPRefiner is a point-to-point iterative closest point Refiner.
type ICPRefiner struct {
	MaxIterations int
	// Tolerance stops iterating once the inlier RMSE changes by no more than it.
	Tolerance float64
}

// NewICPRefiner returns an ICPRefiner running at most 50 iterations.
func NewICPRefiner() *ICPRefiner {
	return &ICPRefiner{MaxIterations: 50, Tolerance: 1e-6}
}

// Refine runs ICP of source against a kd-tree built over target.
func (r *ICPRefiner) Refine(
	ctx context.Context,
	source, target PointCloud,
	initial spatialmath.Pose,
	threshold float64,
) (spatialmath.Pose, *RegistrationInfo, error) {
	return RegisterPointCloudICP(ctx, source, ToKDTree(target), initial, threshold, r.MaxIterations, r.Tolerance)
}

// RegisterPointCloudICP registers source onto the indexed target. Correspondences are nearest
// neighbors within threshold and each step is the least squares rigid transform between them.
// When fewer than three correspondences are found or the RMSE does not settle within
// maxIterations, the initial pose is returned with Converged false.
func RegisterPointCloudICP(
	ctx context.Context,
	source PointCloud,
	target *KDTree,
	initial spatialmath.Pose,
	threshold float64,
	maxIterations int,
	tolerance float64,
) (spatialmath.Pose, *RegistrationInfo, error) {
	if threshold <= 0 || math.IsNaN(threshold) {
		return nil, nil, errors.Errorf("correspondence threshold must be positive, got %v", threshold)
	}
	if maxIterations <= 0 {
		return nil, nil, errors.Errorf("max iterations must be positive, got %d", maxIterations)
	}
	if initial == nil {
		initial = spatialmath.NewZeroPose()
	}

	src := Points(source)
	failed := &RegistrationInfo{}
	if len(src) == 0 || target.Size() == 0 {
		return initial, failed, nil
	}

	current := initial
	moved, matched, dists := correspondences(src, target, current, threshold)
	if len(dists) < minCorrespondences {
		return initial, failed, nil
	}
	prevRMSE := rmse(dists)

	for iter := 1; iter <= maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		delta, err := bestRigidTransform(moved, matched)
		if err != nil {
			return initial, failed, nil
		}
		current = spatialmath.Compose(delta, current)

		moved, matched, dists = correspondences(src, target, current, threshold)
		if len(dists) < minCorrespondences {
			return initial, failed, nil
		}
		curRMSE := rmse(dists)
		if math.Abs(prevRMSE-curRMSE) <= tolerance {
			meanErr, err := stats.Mean(dists)
			if err != nil {
				return nil, nil, err
			}
			return current, &RegistrationInfo{
				Iterations: iter,
				Converged:  true,
				Fitness:    float64(len(dists)) / float64(len(src)),
				InlierRMSE: curRMSE,
				MeanError:  meanErr,
			}, nil
		}
		prevRMSE = curRMSE
	}
	failed.Iterations = maxIterations
	return initial, failed, nil
}

// correspondences transforms src by pose and pairs every moved point with its nearest target point
// within threshold.
func correspondences(src []r3.Vector, target *KDTree, pose spatialmath.Pose, threshold float64) ([]r3.Vector, []r3.Vector, stats.Float64Data) {
	moved := make([]r3.Vector, 0, len(src))
	matched := make([]r3.Vector, 0, len(src))
	dists := make(stats.Float64Data, 0, len(src))
	for _, s := range src {
		p := spatialmath.TransformPoint(pose, s)
		nn, ok := target.NearestNeighbor(p)
		if !ok || nn.Distance > threshold {
			continue
		}
		moved = append(moved, p)
		matched = append(matched, nn.Point)
		dists = append(dists, nn.Distance)
	}
	return moved, matched, dists
}

func rmse(dists stats.Float64Data) float64 {
	var sum float64
	for _, d := range dists {
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(dists)))
}

// bestRigidTransform returns the rotation and translation minimizing the squared distance between
// the paired points (Kabsch).
func bestRigidTransform(from, to []r3.Vector) (spatialmath.Pose, error) {
	var fromCenter, toCenter r3.Vector
	for i := range from {
		fromCenter = fromCenter.Add(from[i])
		toCenter = toCenter.Add(to[i])
	}
	fromCenter = fromCenter.Mul(1 / float64(len(from)))
	toCenter = toCenter.Mul(1 / float64(len(to)))

	cov := mat.NewDense(3, 3, nil)
	for i := range from {
		a := from[i].Sub(fromCenter)
		b := to[i].Sub(toCenter)
		av := [3]float64{a.X, a.Y, a.Z}
		bv := [3]float64{b.X, b.Y, b.Z}
		for row := 0; row < 3; row++ {
			for col := 0; col < 3; col++ {
				cov.Set(row, col, cov.At(row, col)+av[row]*bv[col])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(cov, mat.SVDFull); !ok {
		return nil, errors.New("covariance SVD did not converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&v, u.T())
	if mat.Det(&rot) < 0 {
		// reflection; flip the axis of the smallest singular value
		for row := 0; row < 3; row++ {
			v.Set(row, 2, -v.At(row, 2))
		}
		rot.Mul(&v, u.T())
	}
	rm, err := spatialmath.NewRotationMatrix(rot.RawMatrix().Data)
	if err != nil {
		return nil, err
	}
	return spatialmath.NewPose(toCenter.Sub(rm.Mul(fromCenter)), rm), nil
}
