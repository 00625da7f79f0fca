// Package cli contains the annotator command line: generating ground truth for scenes and
// editing the instances placed in them.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

// CLI flags.
const (
	datasetFlag    = "dataset"
	configFlag     = "config"
	debugFlag      = "debug"
	logLevelFlag   = "log-level"
	traceFlag      = "trace"
	logFileFlag    = "log-file"
	sceneFlag      = "scene"
	allScenesFlag  = "all"
	outputFlag     = "output"
	lasFlag        = "labeled-cloud"
	classFlag      = "class"
	instanceFlag   = "instance"
	workersFlag    = "workers"
	policyFlag     = "self-match-policy"
	dxFlag         = "dx"
	dyFlag         = "dy"
	dzFlag         = "dz"
	rxFlag         = "rx"
	ryFlag         = "ry"
	rzFlag         = "rz"
	thresholdFlag  = "threshold"
	iterationsFlag = "iterations"
)

func sceneNumberFlag() *cli.IntFlag {
	return &cli.IntFlag{
		Name:     sceneFlag,
		Aliases:  []string{"s"},
		Usage:    "scene `NUMBER`",
		Required: true,
	}
}

func instanceNameFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     instanceFlag,
		Aliases:  []string{"i"},
		Usage:    "instance `NAME`, e.g. choco_box_0",
		Required: true,
	}
}

var app = &cli.App{
	Name:            "annotator",
	Usage:           "generate pose, point cloud and image ground truth for scanned scenes",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    datasetFlag,
			Aliases: []string{"d"},
			Usage:   "dataset root `DIR` holding objects/ and scenes/",
			EnvVars: []string{"ANNOTATOR_DATASET"},
			Value:   ".",
		},
		&cli.StringFlag{
			Name:    configFlag,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE` (json or yaml)",
			EnvVars: []string{"ANNOTATOR_CONFIG"},
		},
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.StringFlag{
			Name:  logLevelFlag,
			Usage: "minimum `LEVEL` logged: debug, info, warn or error",
			Value: "info",
		},
		&cli.StringFlag{
			Name:  logFileFlag,
			Usage: "also write logs to `FILE`, rotated by size",
		},
	},
	Before: setupAction,
	After:  teardownAction,
	Commands: []*cli.Command{
		{
			Name:  "generate",
			Usage: "write 6d.json, cloud_annotation.json and seg_mask_<view>.png for scenes",
			Flags: []cli.Flag{
				&cli.IntSliceFlag{
					Name:    sceneFlag,
					Aliases: []string{"s"},
					Usage:   "scene `NUMBER` to generate, may be repeated",
				},
				&cli.BoolFlag{
					Name:  allScenesFlag,
					Usage: "generate every scene of the dataset",
				},
				&cli.StringFlag{
					Name:  outputFlag,
					Usage: "write artifacts under `DIR`/<scene> instead of the scene directory",
				},
				&cli.BoolFlag{
					Name:  traceFlag,
					Usage: "log per-instance compositing details for every view at any log level",
				},
				&cli.BoolFlag{
					Name:  lasFlag,
					Usage: "also write labeled_cloud.las, the scene cloud labeled by instance class",
				},
				&cli.IntFlag{
					Name:  workersFlag,
					Usage: "number of views rendered at once, 0 for one per CPU",
				},
				&cli.StringFlag{
					Name:  policyFlag,
					Usage: "self match policy: keep_all, drop_coincident or drop_nearest",
				},
			},
			Action: GenerateAction,
		},
		{
			Name:   "scenes",
			Usage:  "list the scenes of the dataset",
			Action: ListScenesAction,
		},
		{
			Name:   "config",
			Usage:  "print the effective configuration",
			Action: ShowConfigAction,
		},
		{
			Name:   "classes",
			Usage:  "list object classes, their label values and whether a model exists",
			Action: ListClassesAction,
		},
		{
			Name:            "instances",
			Usage:           "work with the instances placed in a scene",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:   "list",
					Usage:  "list instances and their poses",
					Flags:  []cli.Flag{sceneNumberFlag()},
					Action: ListInstancesAction,
				},
				{
					Name:  "place",
					Usage: "place a new instance of a class above the scene origin",
					Flags: []cli.Flag{
						sceneNumberFlag(),
						&cli.StringFlag{
							Name:     classFlag,
							Usage:    "object `CLASS`",
							Required: true,
						},
					},
					Action: PlaceInstanceAction,
				},
				{
					Name:  "move",
					Usage: "translate an instance",
					Flags: []cli.Flag{
						sceneNumberFlag(),
						instanceNameFlag(),
						&cli.Float64Flag{Name: dxFlag, Usage: "x offset in scene units"},
						&cli.Float64Flag{Name: dyFlag, Usage: "y offset in scene units"},
						&cli.Float64Flag{Name: dzFlag, Usage: "z offset in scene units"},
					},
					Action: MoveInstanceAction,
				},
				{
					Name:  "rotate",
					Usage: "rotate an instance about its center by x, y then z angles",
					Flags: []cli.Flag{
						sceneNumberFlag(),
						instanceNameFlag(),
						&cli.Float64Flag{Name: rxFlag, Usage: "rotation about x in degrees"},
						&cli.Float64Flag{Name: ryFlag, Usage: "rotation about y in degrees"},
						&cli.Float64Flag{Name: rzFlag, Usage: "rotation about z in degrees"},
					},
					Action: RotateInstanceAction,
				},
				{
					Name:   "remove",
					Usage:  "remove an instance",
					Flags:  []cli.Flag{sceneNumberFlag(), instanceNameFlag()},
					Action: RemoveInstanceAction,
				},
				{
					Name:  "refine",
					Usage: "align an instance onto the scene cloud with ICP",
					Flags: []cli.Flag{
						sceneNumberFlag(),
						instanceNameFlag(),
						&cli.Float64Flag{
							Name:  thresholdFlag,
							Usage: "correspondence distance, defaults to the configured refine threshold",
						},
						&cli.IntFlag{
							Name:  iterationsFlag,
							Usage: "maximum ICP iterations, defaults to the configured value",
						},
					},
					Action: RefineInstanceAction,
				},
			},
		},
		{
			Name:   "version",
			Usage:  "print version info for this program",
			Action: VersionAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
