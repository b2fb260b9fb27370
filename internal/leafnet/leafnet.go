// leafnet.go LeafNet model specific code
package leafnet

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	tflite "github.com/tphakala/go-tflite"

	"github.com/leafscan/leafnet-go/internal/conf"
	"github.com/leafscan/leafnet-go/internal/datastore"
	"github.com/leafscan/leafnet-go/internal/errors"
	"github.com/leafscan/leafnet-go/internal/observability"
)

// decodeTable maps the model's output index to a disease label. The ordering
// is fixed and versioned with the model artifact; DiseaseOther is reviewer
// only and deliberately absent, automated inference can never emit it.
var decodeTable = [...]datastore.DiseaseType{
	datastore.DiseaseBrownRust,
	datastore.DiseaseYellowRust,
	datastore.DiseaseSeptoria,
	datastore.DiseaseHealthy,
	datastore.DiseaseMildew,
}

// ClassCount is the number of classes the model predicts over.
const ClassCount = len(decodeTable)

// LeafNet holds the frozen classification model. The model is loaded once at
// process start and never mutated by a call; the interpreter executes one
// forward pass at a time, guarded by mu.
type LeafNet struct {
	Settings    *conf.Settings
	interpreter *tflite.Interpreter
	model       *tflite.Model
	metrics     *observability.LeafNetMetrics
	mu          sync.Mutex

	// invoker runs one forward pass over a preprocessed sample. Defaults to
	// the TFLite interpreter; tests substitute it where no model is loaded.
	invoker func(sample []float32) ([]float64, error)
}

// SetMetrics attaches inference metrics. Safe to leave unset; the CLI
// commands run without a registry.
func (ln *LeafNet) SetMetrics(metrics *observability.LeafNetMetrics) {
	ln.metrics = metrics
}

// New initializes a new LeafNet instance with the given settings.
func New(settings *conf.Settings) (*LeafNet, error) {
	ln := &LeafNet{Settings: settings}

	if err := ln.initializeModel(); err != nil {
		return nil, errors.Wrap(err).
			Component("leafnet").
			Category(errors.CategoryModelInit).
			Context("model_path", settings.Model.Path).
			Build()
	}

	if err := ln.validateModel(); err != nil {
		ln.Delete()
		return nil, err
	}

	return ln, nil
}

// initializeModel loads and initializes the classification model.
func (ln *LeafNet) initializeModel() error {
	start := time.Now()

	modelData, err := ln.loadModel()
	if err != nil {
		return err
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return errors.Newf("cannot load TensorFlow Lite model").
			Component("leafnet").
			Category(errors.CategoryModelLoad).
			Context("model_size_mb", len(modelData)/1024/1024).
			Build()
	}
	ln.model = model

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(ln.determineThreadCount(ln.Settings.Model.Threads))
	options.SetErrorReporter(func(msg string, userData any) {
		getLogger().Error("TFLite error", "message", msg)
	}, nil)

	ln.interpreter = tflite.NewInterpreter(model, options)
	if ln.interpreter == nil {
		return errors.Newf("cannot create interpreter").
			Component("leafnet").
			Category(errors.CategoryModelInit).
			Build()
	}
	if status := ln.interpreter.AllocateTensors(); status != tflite.OK {
		return errors.Newf("tensor allocation failed: %v", status).
			Component("leafnet").
			Category(errors.CategoryModelInit).
			Build()
	}

	// The model bytes are no longer needed, TFLite keeps its own copy.
	runtime.GC()

	getLogger().Info("LeafNet model initialized",
		"model", filepath.Base(ln.Settings.Model.Path),
		"input_size", ln.Settings.Model.InputSize,
		"load_time", time.Since(start).String())
	return nil
}

// loadModel reads the model artifact from the configured filesystem path,
// expanding environment variables and a leading ~.
func (ln *LeafNet) loadModel() ([]byte, error) {
	modelPath := os.ExpandEnv(ln.Settings.Model.Path)
	if strings.HasPrefix(modelPath, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err).
				Component("leafnet").
				Category(errors.CategoryFileIO).
				Context("path", modelPath).
				Build()
		}
		modelPath = filepath.Join(homeDir, modelPath[2:])
	}

	data, err := os.ReadFile(modelPath) //nolint:gosec // G304: modelPath is from application settings
	if err != nil {
		return nil, errors.Wrap(err).
			Component("leafnet").
			Category(errors.CategoryModelLoad).
			Context("path", modelPath).
			Build()
	}
	return data, nil
}

// validateModel checks that the model's output size matches the fixed decode
// table. A model with a different class count fails at startup instead of
// silently misdecoding.
func (ln *LeafNet) validateModel() error {
	outputTensor := ln.interpreter.GetOutputTensor(0)
	if outputTensor == nil {
		return errors.Newf("cannot get output tensor from model").
			Component("leafnet").
			Category(errors.CategoryValidation).
			Build()
	}

	modelOutputSize := outputTensor.Dim(outputTensor.NumDims() - 1)
	if modelOutputSize != ClassCount {
		return errors.Newf("class count mismatch: model emits %d classes but decode table has %d",
			modelOutputSize, ClassCount).
			Component("leafnet").
			Category(errors.CategoryValidation).
			Context("model_classes", modelOutputSize).
			Context("decode_table_classes", ClassCount).
			Build()
	}
	return nil
}

// determineThreadCount bounds the configured thread count by the system CPU count.
func (ln *LeafNet) determineThreadCount(configuredThreads int) int {
	systemCPUCount := runtime.NumCPU()
	if configuredThreads <= 0 || configuredThreads > systemCPUCount {
		return systemCPUCount
	}
	return configuredThreads
}

// Delete releases resources used by the TensorFlow Lite interpreter.
func (ln *LeafNet) Delete() {
	if ln.interpreter != nil {
		ln.interpreter.Delete()
		ln.interpreter = nil
	}
	if ln.model != nil {
		ln.model.Delete()
		ln.model = nil
	}
}
