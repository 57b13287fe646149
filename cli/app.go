// Package cli contains the business logic of the frontfollow command.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"github.com/frontfollow/frontfollow/internal/trainer"
)

// Flags.
const (
	flagConfig        = "config"
	flagDebug         = "debug"
	flagLogFile       = "log-file"
	flagWindowWidth   = "window-width"
	flagSkin          = "skin"
	flagMultiOutput   = "multi-output"
	flagSeed          = "seed"
	flagWorkers       = "workers"
	flagCheckpoint    = "checkpoint"
	flagData          = "data"
	flagLabels        = "labels"
	flagReturns       = "returns"
	flagEvalData      = "eval-data"
	flagEvalLabels    = "eval-labels"
	flagCheckpointDir = "checkpoint-dir"
	flagRegistry      = "registry"
	flagThreshold     = "threshold"
	flagMaxRounds     = "max-rounds"
	flagEpochs        = "epochs"
	flagBatchSize     = "batch-size"
	flagStopUnstable  = "stop-on-instability"
	flagAddress       = "address"
	flagName          = "name"
	flagWatch         = "watch"
	flagKey           = "key"
	flagTop           = "top"
	flagJSON          = "json"
	flagPlot          = "plot"
)

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  flagWindowWidth,
			Usage: "number of timesteps per window",
			Value: 10,
		},
		&cli.BoolFlag{
			Name:  flagSkin,
			Usage: "include the skin modality",
		},
		&cli.BoolFlag{
			Name:  flagMultiOutput,
			Usage: "build the actor/critic head instead of the softmax head",
		},
		&cli.Int64Flag{
			Name:  flagSeed,
			Usage: "seed for weight initialization and shuffling; 0 picks one from the clock",
		},
		&cli.IntFlag{
			Name:  flagWorkers,
			Usage: "number of inference workers; 0 uses every CPU",
		},
		&cli.PathFlag{
			Name:  flagCheckpoint,
			Usage: "load parameters from checkpoint `FILE`",
		},
	}
}

func dataFlags() []cli.Flag {
	return []cli.Flag{
		&cli.PathFlag{
			Name:     flagData,
			Usage:    "window data `FILE`, one window per line",
			Required: true,
		},
		&cli.PathFlag{
			Name:     flagLabels,
			Usage:    "label `FILE`, one class per line",
			Required: true,
		},
	}
}

func withFlags(groups ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, g := range groups {
		flags = append(flags, g...)
	}
	return flags
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "frontfollow",
		Usage:           "train and serve the front-following motion classifier",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load model configuration from JSON `FILE`; model flags that are set override it",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.PathFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`, rotating it as it grows",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "summary",
				Usage:  "print the layers and parameter counts of a model",
				Flags:  modelFlags(),
				Action: SummaryAction,
			},
			{
				Name:   "evaluate",
				Usage:  "report loss and accuracy of a model on a labelled dataset",
				Flags:  withFlags(modelFlags(), dataFlags()),
				Action: EvaluateAction,
			},
			{
				Name:  "train",
				Usage: "train in rounds until the accuracy threshold is reached",
				Flags: withFlags(modelFlags(), dataFlags(), []cli.Flag{
					&cli.PathFlag{
						Name:  flagReturns,
						Usage: "per window critic target `FILE` for the actor/critic head",
					},
					&cli.PathFlag{
						Name:  flagEvalData,
						Usage: "evaluate on this window data `FILE` instead of the training data",
					},
					&cli.PathFlag{
						Name:  flagEvalLabels,
						Usage: "labels for --" + flagEvalData,
					},
					&cli.PathFlag{
						Name:     flagCheckpointDir,
						Usage:    "directory receiving one checkpoint per round",
						Required: true,
					},
					&cli.PathFlag{
						Name:  flagRegistry,
						Usage: "checkpoint registry database; defaults to checkpoints.db in the checkpoint directory",
					},
					&cli.Float64Flag{
						Name:  flagThreshold,
						Usage: "stop once the evaluation accuracy reaches this value",
						Value: trainer.DefaultThreshold,
					},
					&cli.IntFlag{
						Name:  flagMaxRounds,
						Usage: "give up after this many rounds",
						Value: trainer.DefaultMaxRounds,
					},
					&cli.IntFlag{
						Name:  flagEpochs,
						Usage: "epochs per round",
						Value: trainer.DefaultEpochs,
					},
					&cli.IntFlag{
						Name:  flagBatchSize,
						Usage: "windows per gradient step",
						Value: 64,
					},
					&cli.BoolFlag{
						Name:  flagStopUnstable,
						Usage: "fail on the first non-finite loss instead of logging it",
					},
					&cli.PathFlag{
						Name:  flagPlot,
						Usage: "write a PNG `FILE` plotting loss and accuracy per epoch across rounds",
					},
				}),
				Action: TrainAction,
			},
			{
				Name:  "predict",
				Usage: "classify every window of a data file",
				Flags: withFlags(modelFlags(), []cli.Flag{
					&cli.PathFlag{
						Name:     flagData,
						Usage:    "window data `FILE`, one window per line",
						Required: true,
					},
					&cli.IntFlag{
						Name:  flagTop,
						Usage: "number of classes to print per window",
						Value: 1,
					},
				}),
				Action: PredictAction,
			},
			{
				Name:  "serve",
				Usage: "serve the model over the ML model gRPC API",
				Flags: withFlags(modelFlags(), []cli.Flag{
					&cli.StringFlag{
						Name:  flagAddress,
						Usage: "listen address",
						Value: "localhost:8085",
					},
					&cli.StringFlag{
						Name:  flagName,
						Usage: "service name clients address the model by",
						Value: "front_following",
					},
					&cli.BoolFlag{
						Name:  flagWatch,
						Usage: "reload the checkpoint whenever it is rewritten",
					},
				}),
				Action: ServeAction,
			},
			{
				Name:  "checkpoints",
				Usage: "list recorded checkpoints, newest first",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     flagRegistry,
						Usage:    "checkpoint registry database",
						Required: true,
					},
					&cli.StringFlag{
						Name:  flagKey,
						Usage: "only list checkpoints of this architecture key",
					},
					&cli.BoolFlag{
						Name:  flagJSON,
						Usage: "print the records as JSON instead of a table",
					},
				},
				Action: CheckpointsAction,
			},
			{
				Name:   "config-schema",
				Usage:  "print the JSON schema of the model configuration file",
				Action: ConfigSchemaAction,
			},
		},
	}
}
