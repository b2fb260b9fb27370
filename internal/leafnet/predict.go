package leafnet

import (
	"image"
	"math"
	"time"

	tflite "github.com/tphakala/go-tflite"

	"github.com/leafscan/leafnet-go/internal/datastore"
	"github.com/leafscan/leafnet-go/internal/errors"
)

// Predict performs inference on a single image and returns a softmax
// probability distribution over the fixed class list.
func (ln *LeafNet) Predict(img image.Image) ([]float64, error) {
	sample := ln.preprocess(img)

	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.invoke(sample)
}

// PredictBatch performs inference on a sequence of images and returns one
// probability vector per image, in input order. The underlying compute
// resource executes one forward pass at a time, so the batch runs as
// serialized invokes under a single lock acquisition.
func (ln *LeafNet) PredictBatch(imgs []image.Image) ([][]float64, error) {
	samples := make([][]float32, len(imgs))
	for i, img := range imgs {
		samples[i] = ln.preprocess(img)
	}

	ln.mu.Lock()
	defer ln.mu.Unlock()

	results := make([][]float64, len(samples))
	for i, sample := range samples {
		probs, err := ln.invoke(sample)
		if err != nil {
			return nil, errors.Wrap(err).
				Component("leafnet").
				Category(errors.CategoryInference).
				Context("batch_index", i).
				Build()
		}
		results[i] = probs
	}
	return results, nil
}

// invoke runs one forward pass. Caller must hold ln.mu.
func (ln *LeafNet) invoke(sample []float32) ([]float64, error) {
	run := ln.invoker
	if run == nil {
		run = ln.invokeInterpreter
	}

	start := time.Now()
	probs, err := run(sample)
	if ln.metrics != nil {
		ln.metrics.PredictionDuration.Observe(time.Since(start).Seconds())
		ln.metrics.PredictionTotal.Inc()
		if err != nil {
			ln.metrics.PredictionErrors.Inc()
		}
	}
	return probs, err
}

func (ln *LeafNet) invokeInterpreter(sample []float32) ([]float64, error) {
	inputTensor := ln.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, errors.Newf("cannot get input tensor").
			Component("leafnet").
			Category(errors.CategoryInference).
			Build()
	}
	copy(inputTensor.Float32s(), sample)

	if status := ln.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("tensor invoke failed: %v", status).
			Component("leafnet").
			Category(errors.CategoryInference).
			Build()
	}

	outputTensor := ln.interpreter.GetOutputTensor(0)
	logits := make([]float32, outputTensor.Dim(outputTensor.NumDims()-1))
	copy(logits, outputTensor.Float32s())

	return softmax(logits), nil
}

// softmax converts raw logits to a probability distribution. Shifting by the
// maximum keeps the exponentials in range.
func softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}

	maxLogit := float64(logits[0])
	for _, l := range logits[1:] {
		if float64(l) > maxLogit {
			maxLogit = float64(l)
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(float64(l) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// DecodeDiagnosis maps a probability vector to a disease label by arg-max
// index. Ties break to the lowest index, the first class in the fixed
// ordering.
func DecodeDiagnosis(probs []float64) (datastore.DiseaseType, error) {
	if len(probs) != ClassCount {
		return "", errors.Newf("probability vector has %d entries, decode table has %d", len(probs), ClassCount).
			Component("leafnet").
			Category(errors.CategoryInference).
			Context("vector_length", len(probs)).
			Build()
	}

	maxIndex := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[maxIndex] {
			maxIndex = i
		}
	}
	return decodeTable[maxIndex], nil
}
