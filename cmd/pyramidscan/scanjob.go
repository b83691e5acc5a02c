package main

import (
	"fmt"

	"github.com/airbusgeo/pyramidscan/orchestrator"
	"github.com/airbusgeo/pyramidscan/tiff"
	"github.com/alessio/shellescape"
	wfv1 "github.com/argoproj/argo-workflows/v3/pkg/apis/workflow/v1alpha1"
	"github.com/google/uuid"
	shellwords "github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
	k8sv1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	k8smeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/yaml"
)

var (
	jobShards      int
	jobShell       bool
	jobDockerImage string
	jobID          string
)

var defaultWorkerImage = "build-error-this-variable-should-have-been-set-on-build"

// scanJobCmd shards a frame-scan of one pyramid file across jobShards
// parallel worker pods, one "scan" invocation per shard with a disjoint
// row range of frames, and prints either the Argo Workflow manifest or
// the equivalent shell commands.
var scanJobCmd = &cobra.Command{
	Use:   "scan-job file",
	Short: "emit an argo workflow (or shell script) that shards a pyramid scan across workers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file := args[0]
		if jobID == "" {
			jobID = uuid.New().String()
		}
		if jobShards < 1 {
			return fmt.Errorf("shards must be >= 1")
		}

		info := orchestrator.NewReadTIFFOrchestrator(file, orchestrator.RequireExistence(true), orchestrator.RequireValidTiff(true))
		dims, err := info.Call(scanLevel, tiff.Rect{Width: 1, Height: 1})
		if err != nil {
			return fmt.Errorf("probe %s: %w", file, err)
		}
		rowsPerShard := (dims.ImageHeight + uint64(jobShards) - 1) / uint64(jobShards)

		wf := &wfv1.Workflow{
			ObjectMeta: k8smeta.ObjectMeta{
				GenerateName: "pyramidscan-",
				Labels:       map[string]string{"pyramidscan/job-id": jobID},
			},
			TypeMeta: k8smeta.TypeMeta{
				APIVersion: "argoproj.io/v1alpha1",
				Kind:       "Workflow",
			},
			Spec: wfv1.WorkflowSpec{
				TTLStrategy: &wfv1.TTLStrategy{
					SecondsAfterSuccess: int32Ptr(3600),
				},
				Entrypoint: "scan",
				TemplateDefaults: &wfv1.Template{
					Container: &k8sv1.Container{
						ImagePullPolicy: k8sv1.PullAlways,
						Resources: k8sv1.ResourceRequirements{
							Requests: k8sv1.ResourceList{
								k8sv1.ResourceCPU:    resource.MustParse("1"),
								k8sv1.ResourceMemory: resource.MustParse("1G"),
							},
						},
					},
				},
				Templates: []wfv1.Template{
					{Name: "scan"},
				},
			},
		}

		ps := wfv1.ParallelSteps{}
		for shard := 0; shard < jobShards; shard++ {
			y := uint64(shard) * rowsPerShard
			if y >= dims.ImageHeight {
				break
			}
			h := rowsPerShard
			if y+h > dims.ImageHeight {
				h = dims.ImageHeight - y
			}
			roi := fmt.Sprintf("%d,%d,%d,%d", 0, y, dims.ImageWidth, h)
			command := []string{"pyramidscan", "scan", file,
				"--level", fmt.Sprintf("%d", scanLevel),
				"--frame-width", fmt.Sprintf("%d", scanFrameW),
				"--frame-height", fmt.Sprintf("%d", scanFrameH),
				"--pattern", scanPatternName,
				"--roi", roi,
				"--workingBucket", workBucket,
			}
			if jobShell {
				line := printCommand(command)
				if parsed, err := parseShell(line); err != nil || len(parsed) != len(command) {
					return fmt.Errorf("shard %d: emitted shell line does not round-trip: %q", shard, line)
				}
				fmt.Println(line)
				continue
			}
			step := wfv1.WorkflowStep{
				Name: fmt.Sprintf("shard-%d", shard),
				Inline: &wfv1.Template{
					RetryStrategy: &wfv1.RetryStrategy{
						Limit: intOrStringPtr(5),
					},
					Container: &k8sv1.Container{
						Name:    "scan",
						Image:   jobDockerImage,
						Command: command,
					},
				},
			}
			ps.Steps = append(ps.Steps, step)
		}
		if jobShell {
			return nil
		}
		wf.Spec.Templates[0].Steps = append(wf.Spec.Templates[0].Steps, ps)

		yb, err := yaml.Marshal(wf)
		if err != nil {
			return fmt.Errorf("marshal workflow: %w", err)
		}
		fmt.Println(string(yb))
		return nil
	},
}

func init() {
	scanJobCmd.Flags().IntVar(&jobShards, "shards", 4, "number of parallel scan shards")
	scanJobCmd.Flags().BoolVar(&jobShell, "shell", false, "print equivalent shell commands instead of an argo workflow")
	scanJobCmd.Flags().StringVar(&jobDockerImage, "dockerImage", defaultWorkerImage, "docker image for scan workers")
	scanJobCmd.Flags().StringVar(&jobID, "jobID", "", "(advanced) use a predefined job identifier")
	scanJobCmd.Flags().IntVar(&scanLevel, "level", 0, "pyramid resolution level")
	scanJobCmd.Flags().IntVar(&scanFrameW, "frame-width", 512, "frame width in pixels")
	scanJobCmd.Flags().IntVar(&scanFrameH, "frame-height", 512, "frame height in pixels")
	scanJobCmd.Flags().StringVar(&scanPatternName, "pattern", "snake-rows", "scan pattern")
}

func int32Ptr(v int32) *int32 { return &v }

func intOrStringPtr(v int) *intstr.IntOrString {
	a := intstr.FromInt(v)
	return &a
}

func printCommand(cmd []string) string {
	return shellescape.QuoteCommand(cmd)
}

// parseShell reads one shard command back out of a shell line, the
// inverse of printCommand.
func parseShell(s string) ([]string, error) {
	p := shellwords.NewParser()
	return p.Parse(s)
}
