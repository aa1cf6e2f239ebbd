package cmd

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/spf13/cobra"

	"github.com/cwbudde/deconvolve/internal/deconv"
	"github.com/cwbudde/deconvolve/internal/imgio"
	"github.com/cwbudde/deconvolve/internal/op"
	"github.com/cwbudde/deconvolve/internal/optim"
)

var (
	dataPath string
	psfPath  string
	outPath  string
	resPath  string
	scale    float64
	mu       float64
	epsilon  float64
	memory   int
	cgMethod string
	lower    float64
	upper    float64
	padding  int
	maxIter  int
	maxEval  int
	gatol    float64
	grtol    float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single deconvolution",
	Long:  `Deconvolves a blurred image with a given point-spread function and writes the restored image.`,
	RunE:  runDeconvolution,
}

func init() {
	runCmd.Flags().StringVar(&dataPath, "data", "", "Blurred input image path (required)")
	runCmd.Flags().StringVar(&psfPath, "psf", "", "Point-spread function image path (required)")
	runCmd.Flags().StringVar(&outPath, "out", "out.png", "Restored output image path")
	runCmd.Flags().StringVar(&resPath, "residual", "", "Optional residual image path")
	runCmd.Flags().Float64Var(&scale, "scale", 1, "Prescale factor applied to the input image")
	runCmd.Flags().Float64Var(&mu, "mu", 0.001, "Regularization level (0 disables)")
	runCmd.Flags().Float64Var(&epsilon, "epsilon", 0.01, "Edge threshold of the regularizer")
	runCmd.Flags().IntVar(&memory, "mem", 5, "Quasi-Newton memory (0 = conjugate gradient)")
	runCmd.Flags().StringVar(&cgMethod, "method", "polak-ribiere", "CG formula: fletcher-reeves, polak-ribiere, hestenes-stiefel, dai-yuan")
	runCmd.Flags().Float64Var(&lower, "lower", 0, "Lower bound on intensities (-Inf to disable)")
	runCmd.Flags().Float64Var(&upper, "upper", math.Inf(1), "Upper bound on intensities")
	runCmd.Flags().IntVar(&padding, "padding", 32, "Padding added to each axis of the variable array")
	runCmd.Flags().IntVar(&maxIter, "maxiter", 200, "Max accepted iterations (0 = unlimited)")
	runCmd.Flags().IntVar(&maxEval, "maxeval", 0, "Max cost evaluations (0 = unlimited)")
	runCmd.Flags().Float64Var(&gatol, "gatol", 0, "Absolute gradient tolerance")
	runCmd.Flags().Float64Var(&grtol, "grtol", 1e-6, "Relative gradient tolerance")

	runCmd.MarkFlagRequired("data")
	runCmd.MarkFlagRequired("psf")
	rootCmd.AddCommand(runCmd)
}

func parseCGMethod(name string) (optim.CGMethod, error) {
	switch name {
	case "fletcher-reeves":
		return optim.FletcherReeves, nil
	case "polak-ribiere":
		return optim.PolakRibiere, nil
	case "hestenes-stiefel":
		return optim.HestenesStiefel, nil
	case "dai-yuan":
		return optim.DaiYuan, nil
	}
	return 0, fmt.Errorf("unknown CG method: %s", name)
}

func runDeconvolution(cmd *cobra.Command, args []string) error {
	method, err := parseCGMethod(cgMethod)
	if err != nil {
		return err
	}

	data, h, w, err := imgio.LoadGrayScaled(dataPath, scale)
	if err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}
	psf, kh, kw, err := imgio.LoadGray(psfPath)
	if err != nil {
		return fmt.Errorf("failed to load PSF: %w", err)
	}
	if err := imgio.Normalize(psf); err != nil {
		return fmt.Errorf("psf: %w", err)
	}
	slog.Info("Loaded inputs", "data", dataPath, "height", h, "width", w, "psf_height", kh, "psf_width", kw)

	drv := deconv.NewDeconvolver[float64]()
	drv.SetMethod(method)
	for _, step := range []func() error{
		func() error { return drv.SetData(data, h, w) },
		func() error { return drv.SetPSF(psf, kh, kw) },
		func() error { return drv.SetPadding(padding) },
		func() error { return drv.SetRegularizationLevel(mu) },
		func() error { return drv.SetEdgeThreshold(epsilon) },
		func() error { return drv.SetLowerBound(lower) },
		func() error { return drv.SetUpperBound(upper) },
		func() error { return drv.SetAbsoluteTolerance(gatol) },
		func() error { return drv.SetRelativeTolerance(grtol) },
		func() error { return drv.SetMemory(memory) },
	} {
		if err := step(); err != nil {
			return err
		}
	}
	drv.SetMaximumIterations(maxIter)
	drv.SetMaximumEvaluations(maxEval)

	// The initial solution is the blurred data embedded at the center
	// of the padded array.
	dshape := []int{h, w}
	vshape := []int{h + padding, w + padding}
	x := make([]float64, vshape[0]*vshape[1])
	offset := []int{padding / 2, padding / 2}
	if err := op.InjectRegion(x, vshape, data, dshape, offset); err != nil {
		return err
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			x[i] = 0
		}
	}
	if err := drv.SetInitialSolution(x); err != nil {
		return err
	}

	if _, err := drv.Start(); err != nil {
		return err
	}
	task, err := drv.Run(cmd.Context())
	if err != nil {
		return err
	}
	switch task {
	case optim.TaskError:
		return fmt.Errorf("deconvolution failed: %w", drv.Err())
	case optim.TaskWarning:
		slog.Warn("Stopped before convergence, writing best solution", "reason", drv.Err())
	}

	slog.Info("Deconvolution complete",
		"iterations", drv.Iterations(),
		"evaluations", drv.Evaluations(),
		"cost", drv.BestCost(),
		"grad_norm", drv.GradNorm(),
		"elapsed", drv.ElapsedTime(),
		"fidelity_time", drv.FidelityTime(),
	)

	best := drv.BestSolution().Data()
	region := make([]float64, h*w)
	if err := op.ExtractRegion(region, dshape, best, vshape, offset); err != nil {
		return err
	}
	if err := imgio.SaveGray(outPath, region, h, w); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if resPath != "" {
		res := make([]float64, h*w)
		peak := 0.0
		for i := range res {
			res[i] = math.Abs(region[i] - data[i])
			if res[i] > peak {
				peak = res[i]
			}
		}
		if peak > 0 {
			for i := range res {
				res[i] /= peak
			}
		}
		if err := imgio.SaveGray(resPath, res, h, w); err != nil {
			return fmt.Errorf("failed to write residual: %w", err)
		}
	}

	fmt.Printf("Wrote %s (cost %.6g, %d iterations, %d evaluations)\n",
		outPath, drv.BestCost(), drv.Iterations(), drv.Evaluations())
	return nil
}
