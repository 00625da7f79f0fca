package utils

import (
	"context"
	"image"
	"sync"
	"testing"

	"go.viam.com/test"
)

func TestGroupWorkParallel(t *testing.T) {
	for _, totalSize := range []int{0, 1, 7, 1000} {
		seen := make([]int, totalSize)
		var groups int
		var mu sync.Mutex
		var merged int
		err := GroupWorkParallel(
			context.Background(),
			totalSize,
			func(numGroups int) { groups = numGroups },
			func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
				count := 0
				return func(memberNum, workNum int) {
						seen[workNum]++
						count++
					}, func() {
						mu.Lock()
						merged += count
						mu.Unlock()
					}
			},
		)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, groups, test.ShouldBeLessThanOrEqualTo, ParallelFactor)
		test.That(t, merged, test.ShouldEqual, totalSize)
		for _, n := range seen {
			test.That(t, n, test.ShouldEqual, 1)
		}
	}
}

func TestGroupWorkParallelCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := GroupWorkParallel(ctx, 10, nil, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
		return nil, nil
	})
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

func TestParallelForEachPixel(t *testing.T) {
	size := image.Point{37, 11}
	visits := make([]int, size.X*size.Y)
	ParallelForEachPixel(size, func(x, y int) {
		visits[y*size.X+x]++
	})
	for _, n := range visits {
		test.That(t, n, test.ShouldEqual, 1)
	}
}
