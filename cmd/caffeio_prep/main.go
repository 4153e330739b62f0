// caffeio_prep prepares images for a network converted from Caffe, and saves the resulting batch
// as a NumPy ".npy" file shaped `[num_variants, height, width, channels]`.
//
// Usage:
//
//	caffeio_prep -config prep.yaml -mode mirror -output batch.npy image1.jpg image_dir/ ...
//
// The configuration is read from the YAML file given by -config, with defaults for all values, and
// can be overridden by environment variables prefixed with CAFFEIO_ (e.g. CAFFEIO_PIPELINE_RAWSCALE=255)
// and by the command-line flags.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gomlx/caffeio/internal/workerspool"
	"github.com/gomlx/caffeio/pkg/caffeio"
	"github.com/gomlx/caffeio/pkg/core/tensors"
	"github.com/gomlx/caffeio/pkg/core/tensors/numpy"
	"github.com/gomlx/caffeio/pkg/imageio"
	"github.com/gomlx/caffeio/pkg/oversample"
	"github.com/gomlx/caffeio/pkg/support/fsutil"
	"github.com/gomlx/caffeio/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "YAML configuration file. If empty, only defaults and "+
		"environment variables are used.")
	flagMode = flag.String("mode", "", fmt.Sprintf("Oversample mode, one of %q. Overrides oversample.mode.",
		oversample.ModeStrings()))
	flagNum     = flag.Int("num", 0, "Number of random crops per image for mode random_crop. Overrides oversample.num.")
	flagBatch   = flag.Int("batch", 0, "Number of images processed at a time. Overrides output.batchsize.")
	flagOutput  = flag.String("output", "", "Path of the .npy file to write. Overrides output.path.")
	flagFloat16 = flag.Bool("float16", false, "Write the output as float16 instead of float32.")
	flagDumpDir = flag.String("dump_dir", "", "If set, each output variant is also saved as a PNG "+
		"image (after reverting the normalization) in this directory.")
	flagChannelSwap = xslices.Flag("channel_swap", nil,
		"Comma-separated channel order, e.g. \"2,1,0\" for RGB->BGR. Overrides pipeline.channelswap.",
		strconv.Atoi)
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() == 0 {
		klog.Errorf("Missing image files or directories to prepare. See 'caffeio_prep -help'.")
		os.Exit(1)
	}

	config := must.M1(LoadConfig(*flagConfig))
	applyFlags(config)
	pipelineConfig, mode, err := config.PipelineConfig()
	if err != nil {
		klog.Fatalf("Invalid configuration: %+v", err)
	}
	paths := must.M1(fsutil.ExpandImagePaths(flag.Args()))
	if len(paths) == 0 {
		klog.Fatalf("No images found in %q", flag.Args())
	}
	pipeline, err := caffeio.New(pipelineConfig)
	if err != nil {
		klog.Fatalf("Failed to create pipeline: %+v", err)
	}

	start := time.Now()
	output, err := prepare(pipeline, mode, paths, config.Output.BatchSize)
	if err != nil {
		klog.Fatalf("Failed to prepare images: %+v", err)
	}
	outputPath := must.M1(fsutil.ReplaceTildeInDir(config.Output.Path))
	encoding := numpy.Float32
	if config.Output.Float16 {
		encoding = numpy.Float16
	}
	must.M(numpy.ToNpyFile(output, outputPath, encoding))
	if config.Output.DumpDir != "" {
		dumpDir := must.M1(fsutil.ReplaceTildeInDir(config.Output.DumpDir))
		must.M(dumpVariants(pipeline, output, dumpDir))
	}
	fmt.Println(summary(&summaryInfo{
		config:        config,
		mode:          mode,
		oversampleNum: pipeline.Config().OversampleNum,
		numImages:     len(paths),
		output:        output,
		outputPath:    outputPath,
		elapsed:       time.Since(start),
	}))
}

// applyFlags overrides the configuration with the flags set in the command line.
func applyFlags(config *PrepConfig) {
	if *flagMode != "" {
		config.Oversample.Mode = *flagMode
	}
	if *flagNum != 0 {
		config.Oversample.Num = *flagNum
	}
	if *flagBatch > 0 {
		config.Output.BatchSize = *flagBatch
	}
	if *flagOutput != "" {
		config.Output.Path = *flagOutput
	}
	if *flagFloat16 {
		config.Output.Float16 = true
	}
	if *flagDumpDir != "" {
		config.Output.DumpDir = *flagDumpDir
	}
	if len(*flagChannelSwap) > 0 {
		config.Pipeline.ChannelSwap = *flagChannelSwap
	}
}

// batchBounds splits numPaths into `[start, end)` ranges of batchSize paths. A batch of a single image
// would be used at its native size by the pipeline, so batches have at least 2 images when there is more
// than one image, and a trailing single image is merged into the previous batch.
func batchBounds(numPaths, batchSize int) [][2]int {
	if batchSize <= 0 || batchSize >= numPaths {
		return [][2]int{{0, numPaths}}
	}
	batchSize = max(batchSize, 2)
	var bounds [][2]int
	for start := 0; start < numPaths; start += batchSize {
		end := min(start+batchSize, numPaths)
		if end-start == 1 && len(bounds) > 0 {
			bounds[len(bounds)-1][1] = end
			break
		}
		bounds = append(bounds, [2]int{start, end})
	}
	return bounds
}

// prepare runs the pipeline over the images in batches of batchSize, and concatenates the results.
// The result doesn't depend on batchSize, except for the random crops drawn.
func prepare(pipeline *caffeio.Pipeline, mode oversample.Mode, paths []string, batchSize int) (*tensors.Tensor, error) {
	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("preparing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(termenv.NewOutput(os.Stderr).Profile != termenv.Ascii),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	var outputs []*tensors.Tensor
	for _, bound := range batchBounds(len(paths), batchSize) {
		batchPaths := paths[bound[0]:bound[1]]
		output, err := pipeline.GetImagePath(batchPaths, mode)
		if err != nil {
			return nil, errors.WithMessagef(err, "batch of images #%d to #%d", bound[0], bound[1]-1)
		}
		outputs = append(outputs, output)
		_ = bar.Add(len(batchPaths))
	}
	_ = bar.Finish()
	return tensors.Concatenate(outputs), nil
}

// dumpVariants saves each variant of the output as a PNG file in dumpDir, after reverting the normalization.
func dumpVariants(pipeline *caffeio.Pipeline, output *tensors.Tensor, dumpDir string) error {
	if err := os.MkdirAll(dumpDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create dump directory %q", dumpDir)
	}
	name := pipeline.Config().InputName
	numVariants := output.Shape().Dimensions[0]
	pool := workerspool.New()
	for ii := range numVariants {
		pool.WaitToStart(func() error {
			// Variants are [H, W, C], the transformer works with [C, H, W].
			variant := output.Index(ii).Transpose(2, 0, 1)
			img, err := pipeline.Transformer().Deprocess(name, variant)
			if err != nil {
				return errors.WithMessagef(err, "variant #%d", ii)
			}
			return imageio.Save(img, 1, filepath.Join(dumpDir, fmt.Sprintf("variant_%05d.png", ii)))
		})
	}
	if err := pool.Wait(); err != nil {
		return err
	}
	klog.V(1).Infof("saved %d variants to %q", numVariants, dumpDir)
	return nil
}
