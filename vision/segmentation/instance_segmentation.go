package segmentation

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/annotator/logging"
	"go.viam.com/annotator/pointcloud"
	"go.viam.com/annotator/utils"
)

// InstanceSegmenter labels the scene points lying within Radius of an instance's points.
type InstanceSegmenter struct {
	Radius float64
	Policy SelfMatchPolicy
	Logger logging.Logger
}

// NewInstanceSegmenter returns a segmenter after validating the radius.
func NewInstanceSegmenter(radius float64, policy SelfMatchPolicy, logger logging.Logger) (*InstanceSegmenter, error) {
	s := &InstanceSegmenter{Radius: radius, Policy: policy, Logger: logger}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *InstanceSegmenter) validate() error {
	if s.Radius <= 0 || math.IsNaN(s.Radius) || math.IsInf(s.Radius, 0) {
		return errors.Errorf("segmentation radius must be positive, got %v", s.Radius)
	}
	if _, ok := policyNames[s.Policy]; !ok {
		return errors.Errorf("unknown self match policy %d", int(s.Policy))
	}
	return nil
}

// Segment returns the sorted, distinct indices of scene points within the radius of any of the
// instance points, subject to the self match policy. An instance without points yields an empty
// result. Queries are split across workers; the index is only read.
func (s *InstanceSegmenter) Segment(ctx context.Context, index *pointcloud.KDTree, points []r3.Vector) ([]int, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return []int{}, nil
	}

	var mu sync.Mutex
	merged := map[int]struct{}{}
	err := utils.GroupWorkParallel(
		ctx,
		len(points),
		nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			found := map[int]struct{}{}
			return func(memberNum, workNum int) {
					for _, idx := range s.matches(index, points[workNum]) {
						found[idx] = struct{}{}
					}
				}, func() {
					mu.Lock()
					defer mu.Unlock()
					for idx := range found {
						merged[idx] = struct{}{}
					}
				}
		},
	)
	if err != nil {
		return nil, err
	}

	result := make([]int, 0, len(merged))
	for idx := range merged {
		result = append(result, idx)
	}
	sort.Ints(result)
	return result, nil
}

// matches runs one radius query and applies the self match policy.
func (s *InstanceSegmenter) matches(index *pointcloud.KDTree, p r3.Vector) []int {
	neighbors := index.RadiusNearestNeighbors(p, s.Radius)
	if s.Policy == DropNearestMatch && len(neighbors) > 0 {
		neighbors = neighbors[1:]
	}
	out := make([]int, 0, len(neighbors))
	for _, n := range neighbors {
		if s.Policy == DropCoincidentMatch && n.Distance <= coincidentDistance {
			continue
		}
		out = append(out, n.Index)
	}
	return out
}

// SegmentAll segments every instance point set against the same index. Results are in instance
// order and may overlap.
func (s *InstanceSegmenter) SegmentAll(ctx context.Context, index *pointcloud.KDTree, instances [][]r3.Vector) ([][]int, error) {
	results := make([][]int, len(instances))
	for i, points := range instances {
		indices, err := s.Segment(ctx, index, points)
		if err != nil {
			return nil, errors.Wrapf(err, "segmenting instance %d", i)
		}
		if s.Logger != nil {
			s.Logger.CDebugw(ctx, "segmented instance", "instance", i, "points", len(points), "scene_points", len(indices))
		}
		results[i] = indices
	}
	return results, nil
}
