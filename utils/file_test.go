package utils

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestSafeJoinDir(t *testing.T) {
	fn, err := SafeJoinDir("objects", "choco_box.pcd")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fn, test.ShouldEqual, filepath.Join("objects", "choco_box.pcd"))

	for _, name := range []string{"../scenes/00001/6d.json", "..", "", "a/../../b"} {
		_, err := SafeJoinDir("objects", name)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestRemoveFileNoError(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "partial.json")
	test.That(t, os.WriteFile(fn, []byte("{"), 0o600), test.ShouldBeNil)
	RemoveFileNoError(fn)
	_, err := os.Stat(fn)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	RemoveFileNoError(fn)
}
